package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/userflow/internal/runtime/config"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	transportpkg "github.com/drblury/userflow/internal/runtime/transport"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type testPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	topic string
	msg   *message.Message
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, m := range messages {
		p.published = append(p.published, publishedMessage{topic: topic, msg: m})
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]publishedMessage, len(p.published))
	copy(clone, p.published)
	return clone
}

type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

type staticTransportFactory struct {
	transport transportpkg.Transport
	err       error
}

func (f staticTransportFactory) Build(ctx context.Context, conf *configpkg.Config, logger watermill.LoggerAdapter) (transportpkg.Transport, error) {
	if f.err != nil {
		return transportpkg.Transport{}, f.err
	}
	return f.transport, nil
}

func testConfig() *configpkg.Config {
	cfg := configpkg.Default()
	cfg.PubSubSystem = "channel"
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.CloseTimeout = 2 * time.Second
	return &cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := newTestLogger()
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}
	return &Service{
		Conf:       testConfig(),
		Logger:     log,
		router:     router,
		publisher:  &testPublisher{},
		subscriber: &testSubscriber{},
		registerer: prometheus.NewRegistry(),
	}
}

// pipeline runs a Service over an in-memory pub/sub so listeners see real
// delivery, acknowledgement and redelivery semantics.
type pipeline struct {
	svc    *Service
	pubSub *gochannel.GoChannel
	logs   *entryRecorder
	cancel context.CancelFunc
	done   chan error
}

func newPipeline(t *testing.T, caps transportpkg.Capabilities, publisher message.Publisher) *pipeline {
	t.Helper()
	logger, logs := newRecordingLogger()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, Persistent: true}, watermill.NopLogger{})
	var pub message.Publisher = pubSub
	if publisher != nil {
		pub = publisher
	}

	reg := prometheus.NewRegistry()
	svc := NewService(testConfig(), logger, context.Background(), ServiceDependencies{
		TransportFactory: staticTransportFactory{transport: transportpkg.Transport{
			Publisher:    pub,
			Subscriber:   pubSub,
			Capabilities: caps,
		}},
		Registerer:           reg,
		DisableSignalHandler: true,
	})
	return &pipeline{svc: svc, pubSub: pubSub, logs: logs}
}

func (p *pipeline) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- p.svc.Start(ctx) }()

	select {
	case <-p.svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	t.Cleanup(p.stop)
}

func (p *pipeline) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	<-p.done
	_ = p.pubSub.Close()
}

func (p *pipeline) publish(t *testing.T, topic string, msg *message.Message) {
	t.Helper()
	if err := p.pubSub.Publish(topic, msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

// next waits for one envelope on topic and acknowledges it.
func (p *pipeline) next(t *testing.T, topic string) *message.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := p.pubSub.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-ctx.Done():
		t.Fatalf("no message on %s", topic)
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
