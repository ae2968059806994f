package runtime

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
)

// ListenerConfig describes a consumer and its failure policy.
type ListenerConfig struct {
	Name  string
	Topic string
	// DeadLetterTopic defaults to Topic followed by the configured dead-letter suffix.
	DeadLetterTopic string
	// Retry defaults to the configured retry bound and backoff.
	Retry *RetryPolicy
	// Hooks observe every attempt, including retries.
	Hooks JobHooks
	// Subscriber overrides the service subscriber.
	Subscriber message.Subscriber
}

type handlerRegistration struct {
	ListenerConfig
	Handler message.HandlerFunc
}

// RegisterMessageHandler attaches a raw Watermill handler to the service
// router behind the listener failure policy.
func RegisterMessageHandler(svc *Service, cfg ListenerConfig, handler message.HandlerFunc) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{ListenerConfig: cfg, Handler: handler})
}

// registerHandler wires the per-listener chain. Outermost first: detach the
// context, route failures to the dead-letter topic, retry transient failures,
// count the attempt, run hooks, turn panics into errors.
func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.Topic == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = cfg.Topic + s.Conf.DeadLetterSuffix
	}
	if cfg.DeadLetterTopic == cfg.Topic {
		return fmt.Errorf("%w: dead-letter topic must differ from %s", errspkg.ErrTopicRequired, cfg.Topic)
	}
	retry := RetryPolicy{MaxRetries: s.Conf.RetryMaxRetries, Backoff: s.Conf.RetryBackoff}
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	info := &HandlerInfo{
		Name:            cfg.Name,
		Topic:           cfg.Topic,
		DeadLetterTopic: cfg.DeadLetterTopic,
		Retry:           retry,
		Stats:           newHandlerStats(),
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	handler := wrapHandlerWithStats(cfg.Handler, info.Stats)

	h := s.router.AddConsumerHandler(
		cfg.Name,
		cfg.Topic,
		cfg.Subscriber,
		func(msg *message.Message) error {
			_, err := handler(msg)
			return err
		},
	)
	h.AddMiddleware(
		detachContextMiddleware,
		s.deadLetterMiddleware(info),
		s.retryMiddleware(retry),
		s.attemptsMiddleware(cfg.Topic),
		jobHooksMiddleware(cfg.Name, cfg.Topic, cfg.Hooks),
		middleware.Recoverer,
	)

	return nil
}
