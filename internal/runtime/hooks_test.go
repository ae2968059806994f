package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

func TestJobHooks_OnJobStart(t *testing.T) {
	var called bool
	var capturedCtx JobContext

	hooks := JobHooks{
		OnJobStart: func(ctx JobContext) {
			called = true
			capturedCtx = ctx
		},
	}

	handler := jobHooksMiddleware("users", testTopic, hooks)(func(msg *message.Message) ([]*message.Message, error) {
		return nil, nil
	})

	msg := message.NewMessage("test-uuid", []byte("payload"))
	msg.Metadata.Set(metadatapkg.KeyRecordKey, "key-1")
	msg.SetContext(context.Background())

	_, err := handler(msg)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "test-uuid", capturedCtx.MessageUUID)
	assert.Equal(t, "users", capturedCtx.HandlerName)
	assert.Equal(t, testTopic, capturedCtx.Topic)
	assert.Equal(t, "key-1", capturedCtx.Key)
	assert.False(t, capturedCtx.StartedAt.IsZero())
}

func TestJobHooks_OnJobDone(t *testing.T) {
	var called bool
	var capturedCtx JobContext

	hooks := JobHooks{
		OnJobDone: func(ctx JobContext) {
			called = true
			capturedCtx = ctx
		},
	}

	handler := jobHooksMiddleware("users", testTopic, hooks)(func(msg *message.Message) ([]*message.Message, error) {
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})

	msg := message.NewMessage("test-uuid", []byte("payload"))
	_, err := handler(msg)
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, capturedCtx.Duration >= 10*time.Millisecond)
}

func TestJobHooks_OnJobError(t *testing.T) {
	var capturedErr error
	var doneCalled bool
	expectedErr := errors.New("handler error")

	hooks := JobHooks{
		OnJobDone: func(ctx JobContext) { doneCalled = true },
		OnJobError: func(ctx JobContext, err error) {
			capturedErr = err
		},
	}

	handler := jobHooksMiddleware("users", testTopic, hooks)(func(msg *message.Message) ([]*message.Message, error) {
		return nil, expectedErr
	})

	_, err := handler(message.NewMessage("test-uuid", nil))
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, expectedErr, capturedErr)
	assert.False(t, doneCalled)
}

func TestJobHooks_Merge(t *testing.T) {
	var order []string

	first := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "first-start") },
		OnJobError: func(JobContext, error) { order = append(order, "first-error") },
	}
	second := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "second-start") },
		OnJobDone:  func(JobContext) { order = append(order, "second-done") },
		OnJobError: func(JobContext, error) { order = append(order, "second-error") },
	}

	merged := first.Merge(second)
	merged.OnJobStart(JobContext{})
	merged.OnJobDone(JobContext{})
	merged.OnJobError(JobContext{}, errors.New("x"))

	assert.Equal(t, []string{"first-start", "second-start", "second-done", "first-error", "second-error"}, order)
}

func TestJobHooks_MergeEmpty(t *testing.T) {
	merged := JobHooks{}.Merge(JobHooks{})
	assert.Nil(t, merged.OnJobStart)
	assert.Nil(t, merged.OnJobDone)
	assert.Nil(t, merged.OnJobError)
}

func TestAttemptsMiddleware_CountsRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := &Service{metrics: NewPipelineMetrics(reg)}
	require.NoError(t, svc.metrics.Register())

	var seen []int
	inner := svc.attemptsMiddleware(testTopic)(func(msg *message.Message) ([]*message.Message, error) {
		seen = append(seen, AttemptFromContext(msg.Context()))
		return nil, nil
	})

	msg := message.NewMessage("uuid", nil)
	ctx, counter := withAttemptCounter(context.Background())
	msg.SetContext(ctx)

	for i := 0; i < 3; i++ {
		_, err := inner(msg)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, int32(3), counter.n.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.retries.WithLabelValues(testTopic)))
}

func TestAttemptFromContext_OutsideListener(t *testing.T) {
	assert.Equal(t, 0, AttemptFromContext(context.Background()))
}

func TestLoggingHooks(t *testing.T) {
	logger, logs := newRecordingLogger()
	hooks := LoggingHooks(logger, "Error processing user message")

	jobCtx := JobContext{HandlerName: "users", Topic: testTopic, MessageUUID: "id", Key: "key-1", Attempt: 2}
	hooks.OnJobStart(jobCtx)
	hooks.OnJobDone(jobCtx)
	hooks.OnJobError(jobCtx, errors.New("store unavailable"))
	hooks.OnJobError(jobCtx, errspkg.NewValidationError([]string{"name: is required"}))
	hooks.OnJobError(jobCtx, &errspkg.MalformedPayloadError{Payload: "{", Err: errors.New("eof")})

	assert.Equal(t, 1, logs.count("trace", "Attempt started"))
	assert.Equal(t, 1, logs.count("debug", "Attempt completed"))
	assert.Equal(t, 1, logs.count("error", "Error processing user message"))

	entry, ok := logs.find("error", "Error processing user message")
	require.True(t, ok)
	assert.Equal(t, 2, entry.fields["attempt"])
	assert.Equal(t, "key-1", entry.fields["key"])
}
