package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	idspkg "github.com/drblury/userflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryPolicy is the fixed-backoff retry bound of a listener.
type RetryPolicy struct {
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	// Backoff is the constant delay between two attempts.
	Backoff time.Duration
}

// DefaultMiddlewares returns the router-level chain used by the Service
// constructor. The failure policy (retry, dead letter) is attached per listener.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		AcknowledgeMiddleware(),
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
	}
}

// AcknowledgeMiddleware acknowledges every envelope, including the ones whose
// handler still failed after dead-letter routing.
func AcknowledgeMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "acknowledge",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.acknowledgeMiddleware(), nil
		},
	}
}

// MetricsMiddleware adds Prometheus router metrics and exposes /metrics.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			if err := s.metrics.Register(); err != nil {
				return nil, fmt.Errorf("register pipeline metrics: %w", err)
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer,
				"userflow",
				s.Conf.PubSubSystem,
			)

			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", s.metricsHandler())
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.correlationIDMiddleware(), nil
		},
	}
}

// LogMessagesMiddleware logs the full payload and metadata of handled messages.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return s.logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.tracerMiddleware(), nil
		},
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func (s *Service) acknowledgeMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err != nil {
				s.Logger.Error("Acknowledging envelope after unhandled failure", err, loggingpkg.LogFields{
					"message_uuid": msg.UUID,
					"key":          msg.Metadata.Get(metadatapkg.KeyRecordKey),
				})
				msg.Ack()
				return nil, nil
			}
			return msgs, nil
		}
	}
}

// correlationIDMiddleware reuses the record key as correlation id and falls
// back to a fresh ULID for keyless envelopes.
func (s *Service) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata[metadatapkg.KeyCorrelationID]; !ok {
				id := msg.Metadata.Get(metadatapkg.KeyRecordKey)
				if id == "" {
					id = idspkg.CreateULID()
				}
				msg.Metadata.Set(metadatapkg.KeyCorrelationID, id)
			}
			return h(msg)
		}
	}
}

// logMessagesMiddleware logs all processed messages with their metadata.
func (s *Service) logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func (s *Service) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("userflow")
			ctx, span := tracer.Start(
				msg.Context(),
				"ProcessRecord",
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("messaging.destination.name", message.SubscribeTopicFromCtx(ctx)),
				attribute.String("messaging.kafka.message.key", msg.Metadata.Get(metadatapkg.KeyRecordKey)),
			)
			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
			}
			return msgs, err
		}
	}
}

// detachContextMiddleware keeps a started retry cycle alive when the router
// shuts down. Router.Close waits for it up to the configured close timeout.
func detachContextMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		msg.SetContext(context.WithoutCancel(msg.Context()))
		return h(msg)
	}
}

// retryMiddleware retries transient failures with a fixed delay. Malformed
// and invalid payloads fail on the first attempt.
func (s *Service) retryMiddleware(policy RetryPolicy) message.HandlerMiddleware {
	return middleware.Retry{
		MaxRetries:          policy.MaxRetries,
		InitialInterval:     policy.Backoff,
		MaxInterval:         policy.Backoff,
		Multiplier:          1,
		RandomizationFactor: 0,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return errspkg.IsRetryable(params.Err)
		},
	}.Middleware
}

func (s *Service) metricsHandler() http.Handler {
	if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
