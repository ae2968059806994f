package users

import (
	"context"
	"fmt"

	"github.com/drblury/userflow/internal/runtime"
	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/userflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	"github.com/drblury/userflow/internal/runtime/schema"
)

// ConsumerConfig holds the collaborators of a Consumer.
type ConsumerConfig struct {
	Topic string
	Store Store
	// Schema, when set, is checked against the raw payload in addition to
	// the record constraints.
	Schema  *schema.Document
	Logger  loggingpkg.ServiceLogger
	Metrics *runtime.PipelineMetrics
}

// Consumer validates user records, reports underage users and stores
// accepted records. Acknowledgment and dead-letter routing belong to the
// listener it is registered on.
type Consumer struct {
	topic    string
	store    Store
	document *schema.Document
	logger   loggingpkg.ServiceLogger
	metrics  *runtime.PipelineMetrics
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if cfg.Store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("users: consumer logger is required")
	}
	return &Consumer{
		topic:    cfg.Topic,
		store:    cfg.Store,
		document: cfg.Schema,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Handle processes one decoded record. Invalid records fail with a
// *errors.ValidationError, store failures are returned wrapped and retried.
func (c *Consumer) Handle(ctx context.Context, evt handlerpkg.JSONMessageContext[*User]) error {
	fields := evt.LogFields()
	fields["topic"] = c.topic
	c.logger.Info("Received record", with(fields, "value", string(evt.Raw)))

	if reasons := c.violations(evt); len(reasons) > 0 {
		c.logger.Warn("Invalid user payload received", with(fields, "reasons", reasons))
		c.metrics.RecordRejected(c.topic, string(errspkg.ClassValidation))
		return errspkg.NewValidationError(reasons)
	}

	u := *evt.Payload
	fields["user"] = u.String()
	c.logger.Info("Consumed valid user", fields)

	if u.Underage() {
		c.logger.Warn("Underage user detected", with(fields, "age", *u.Age))
		c.metrics.RecordUnderage(c.topic)
	}

	if err := c.store.Save(ctx, ToEntity(u)); err != nil {
		return fmt.Errorf("store user %d: %w", *u.ID, err)
	}
	c.metrics.RecordConsumed(c.topic)
	return nil
}

func (c *Consumer) violations(evt handlerpkg.JSONMessageContext[*User]) []string {
	outcome := Validate(evt.Payload)
	if !outcome.Valid {
		return outcome.Reasons
	}
	if c.document == nil {
		return nil
	}
	reasons, err := c.document.Check(evt.Raw)
	if err != nil {
		return []string{err.Error()}
	}
	return reasons
}

// Hooks reports malformed payloads and logs every transient failure.
func (c *Consumer) Hooks() runtime.JobHooks {
	malformed := runtime.JobHooks{
		OnJobError: func(ctx runtime.JobContext, err error) {
			if errspkg.Classify(err) != errspkg.ClassMalformed {
				return
			}
			c.logger.Error("Malformed user payload received", err, loggingpkg.LogFields{
				"topic":        ctx.Topic,
				"key":          ctx.Key,
				"message_uuid": ctx.MessageUUID,
			})
			c.metrics.RecordRejected(c.topic, string(errspkg.ClassMalformed))
		},
	}
	return malformed.Merge(runtime.LoggingHooks(c.logger, "Error processing user message"))
}

// Register attaches the consumer to svc as listener name on the consumer's
// topic. The dead-letter topic and retry policy come from the service
// configuration.
func (c *Consumer) Register(svc *runtime.Service, name string) error {
	return runtime.RegisterJSONHandler(svc, runtime.ListenerConfig{
		Name:  name,
		Topic: c.topic,
		Hooks: c.Hooks(),
	}, c.Handle)
}

func with(fields loggingpkg.LogFields, key string, value any) loggingpkg.LogFields {
	out := make(loggingpkg.LogFields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
