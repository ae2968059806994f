package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

// JobContext provides information about a single handler attempt to hooks.
type JobContext struct {
	// HandlerName is the name of the listener processing the envelope.
	HandlerName string
	// Topic is the topic the envelope was received from.
	Topic string
	// MessageUUID is the unique identifier of the envelope.
	MessageUUID string
	// Key is the broker key of the envelope.
	Key string
	// Metadata contains the envelope headers.
	Metadata message.Metadata
	// Context is the context associated with the envelope.
	Context context.Context
	// StartedAt is when the attempt started.
	StartedAt time.Time
	// Duration is how long the attempt took (only set in OnJobDone and OnJobError).
	Duration time.Duration
	// Attempt is 1 for the first delivery and grows with every retry.
	Attempt int
}

// JobHooks defines callbacks for attempt lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart is called before the handler function is invoked.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when an attempt succeeds.
	OnJobDone func(ctx JobContext)

	// OnJobError is called for every failed attempt, including the ones that
	// will be retried.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

type attemptsKey struct{}

type attemptCounter struct {
	n atomic.Int32
}

func withAttemptCounter(ctx context.Context) (context.Context, *attemptCounter) {
	counter := &attemptCounter{}
	return context.WithValue(ctx, attemptsKey{}, counter), counter
}

// AttemptFromContext returns the current attempt number, or 0 outside a listener.
func AttemptFromContext(ctx context.Context) int {
	if counter, ok := ctx.Value(attemptsKey{}).(*attemptCounter); ok {
		return int(counter.n.Load())
	}
	return 0
}

// attemptsMiddleware sits inside the retry middleware so it runs once per attempt.
func (s *Service) attemptsMiddleware(topic string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if counter, ok := msg.Context().Value(attemptsKey{}).(*attemptCounter); ok {
				if counter.n.Add(1) > 1 {
					s.metrics.RecordRetry(topic)
				}
			}
			return h(msg)
		}
	}
}

func jobHooksMiddleware(handlerName, topic string, hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			jobCtx := JobContext{
				HandlerName: handlerName,
				Topic:       topic,
				MessageUUID: msg.UUID,
				Key:         msg.Metadata.Get(metadatapkg.KeyRecordKey),
				Metadata:    msg.Metadata,
				Context:     msg.Context(),
				StartedAt:   time.Now(),
				Attempt:     AttemptFromContext(msg.Context()),
			}

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)

			jobCtx.Duration = time.Since(jobCtx.StartedAt)

			if err != nil {
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
			} else if hooks.OnJobDone != nil {
				hooks.OnJobDone(jobCtx)
			}

			return msgs, err
		}
	}
}

// LoggingHooks returns hooks that trace every attempt and log retryable
// failures at error level under failureMessage. Malformed and invalid payloads
// are left to the handler that rejects them.
func LoggingHooks(logger loggingpkg.ServiceLogger, failureMessage string) JobHooks {
	fields := func(ctx JobContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"handler":      ctx.HandlerName,
			"topic":        ctx.Topic,
			"message_uuid": ctx.MessageUUID,
			"key":          ctx.Key,
			"attempt":      ctx.Attempt,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Trace("Attempt started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Debug("Attempt completed", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			if !errspkg.IsRetryable(err) {
				return
			}
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error(failureMessage, err, f)
		},
	}
}
