package users

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/userflow/internal/runtime"
	configpkg "github.com/drblury/userflow/internal/runtime/config"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

const testDeadLetterTopic = "user-created-dlt"

type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) Save(ctx context.Context, entity Entity) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Save(ctx, entity)
}

func (s *flakyStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type pipelineFixture struct {
	svc      *runtime.Service
	producer *Producer
	logger   *recordingLogger
	registry *prometheus.Registry
	cancel   context.CancelFunc
	done     chan error
}

func startPipeline(t *testing.T, store Store) *pipelineFixture {
	t.Helper()
	cfg := configpkg.Default()
	cfg.PubSubSystem = "channel"
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.CloseTimeout = 2 * time.Second

	logger := newRecordingLogger()
	reg := prometheus.NewRegistry()
	metrics := runtime.NewPipelineMetrics(reg)
	require.NoError(t, metrics.Register())

	svc := runtime.NewService(&cfg, logger, context.Background(), runtime.ServiceDependencies{
		Registerer:           reg,
		Metrics:              metrics,
		DisableSignalHandler: true,
	})

	doc := testDocument(t)
	consumer, err := NewConsumer(ConsumerConfig{Topic: cfg.Topic, Store: store, Schema: doc, Logger: logger, Metrics: metrics})
	require.NoError(t, err)
	require.NoError(t, consumer.Register(svc, "user-consumer"))

	producer, err := NewProducer(ProducerConfig{Publisher: svc.Publisher(), Topic: cfg.Topic, Schema: doc, Logger: logger, Metrics: metrics})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := &pipelineFixture{svc: svc, producer: producer, logger: logger, registry: reg, cancel: cancel, done: make(chan error, 1)}
	go func() { f.done <- svc.Start(ctx) }()

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not start")
	}

	t.Cleanup(func() {
		_ = producer.Close()
		cancel()
		select {
		case <-f.done:
		case <-time.After(5 * time.Second):
			t.Error("pipeline did not stop")
		}
		_ = svc.Close()
	})
	return f
}

func (f *pipelineFixture) deadLetters(t *testing.T) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	msgs, err := f.svc.Subscriber().Subscribe(ctx, testDeadLetterTopic)
	require.NoError(t, err)
	return msgs
}

func (f *pipelineFixture) deadLettered(t *testing.T) float64 {
	return counterValue(t, f.registry, "dead_lettered_total", map[string]string{"topic": testTopic})
}

func nextMessage(t *testing.T, msgs <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no dead letter received")
		return nil
	}
}

func assertNoMessage(t *testing.T, msgs <-chan *message.Message) {
	t.Helper()
	select {
	case msg := <-msgs:
		msg.Ack()
		t.Fatalf("unexpected dead letter %s", msg.UUID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPipelineRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	f := startPipeline(t, store)

	sent := NewUser(1, "John Doe").WithEmail("john@example.com").WithAge(30)
	delivery, err := f.producer.Publish(context.Background(), sent)
	require.NoError(t, err)
	_, err = delivery.Wait(context.Background())
	require.NoError(t, err)

	waitFor(t, func() bool { return store.Saves() == 1 })
	got, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, ToEntity(sent), got)

	consumed := f.logger.find("info", "Consumed valid user")
	require.Len(t, consumed, 1)
	assert.Equal(t, delivery.Key(), consumed[0].fields["key"])
	assert.Equal(t, 0.0, f.deadLettered(t))
}

func TestPipelineUnderageUserIsAccepted(t *testing.T) {
	store := NewMemoryStore()
	f := startPipeline(t, store)

	_, err := f.producer.Publish(context.Background(), NewUser(3, "Jane Doe").WithAge(15))
	require.NoError(t, err)

	waitFor(t, func() bool { return store.Saves() == 1 })
	assert.Equal(t, 1, f.logger.count("warn", "Underage user detected"))
	assert.Equal(t, 1.0, counterValue(t, f.registry, "underage_total", nil))
	assert.Equal(t, 0.0, f.deadLettered(t))
}

func TestPipelineRoutesInvalidRecordToDeadLetterOnce(t *testing.T) {
	store := NewMemoryStore()
	f := startPipeline(t, store)
	dlt := f.deadLetters(t)

	// The producer refuses this record, so it is published raw.
	payload := []byte(`{"id":4}`)
	require.NoError(t, f.svc.PublishRecord(context.Background(), testTopic, "", payload, nil))

	msg := nextMessage(t, dlt)
	assert.Equal(t, payload, []byte(msg.Payload))
	assert.Equal(t, "validation", msg.Metadata.Get(metadatapkg.KeyDeadLetterErrorClass))
	assert.Equal(t, "1", msg.Metadata.Get(metadatapkg.KeyDeadLetterAttempts))
	assert.Contains(t, msg.Metadata.Get(metadatapkg.KeyDeadLetterErrorMessage), "Name cannot be null")
	assertNoMessage(t, dlt)

	assert.Empty(t, store.All())
	assert.Equal(t, 1, f.logger.count("warn", "Invalid user payload received"))
	assert.Equal(t, 0, f.logger.count("error", "Error processing user message"))
}

func TestPipelineRoutesMalformedRecordToDeadLetter(t *testing.T) {
	store := NewMemoryStore()
	f := startPipeline(t, store)
	dlt := f.deadLetters(t)

	require.NoError(t, f.svc.PublishRecord(context.Background(), testTopic, "", []byte("not json"), nil))

	msg := nextMessage(t, dlt)
	assert.Equal(t, "not json", string(msg.Payload))
	assert.Equal(t, "malformed", msg.Metadata.Get(metadatapkg.KeyDeadLetterErrorClass))
	assertNoMessage(t, dlt)

	assert.Equal(t, 1, f.logger.count("error", "Malformed user payload received"))
	assert.Empty(t, store.All())
}

func TestPipelineRetriesStoreFailuresBeforeDeadLetter(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	f := startPipeline(t, store)
	dlt := f.deadLetters(t)

	delivery, err := f.producer.Publish(context.Background(), NewUser(8, "Kim"))
	require.NoError(t, err)

	msg := nextMessage(t, dlt)
	assert.Equal(t, delivery.Key(), msg.Metadata.Get(metadatapkg.KeyRecordKey))
	assert.Equal(t, "4", msg.Metadata.Get(metadatapkg.KeyDeadLetterAttempts))
	assert.Equal(t, "transient", msg.Metadata.Get(metadatapkg.KeyDeadLetterErrorClass))
	assert.Equal(t, 4, store.Calls())
	assert.Equal(t, 4, f.logger.count("error", "Error processing user message"))
	assert.Empty(t, store.All())
}

func TestPipelineRecoversFromTransientStoreFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	f := startPipeline(t, store)

	_, err := f.producer.Publish(context.Background(), NewUser(9, "Lee"))
	require.NoError(t, err)

	waitFor(t, func() bool { return store.Saves() == 1 })
	assert.Equal(t, 3, store.Calls())
	assert.Equal(t, 2.0, counterValue(t, f.registry, "retries_total", nil))
	assert.Equal(t, 0.0, f.deadLettered(t))
}
