package runtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/userflow/internal/runtime/config"
	transportpkg "github.com/drblury/userflow/internal/runtime/transport"
	channeltransport "github.com/drblury/userflow/transport/channel"
	kafkatransport "github.com/drblury/userflow/transport/kafka"
)

func staticDeps(pub message.Publisher, sub message.Subscriber) ServiceDependencies {
	return ServiceDependencies{
		TransportFactory: staticTransportFactory{transport: transportpkg.Transport{
			Publisher:  pub,
			Subscriber: sub,
		}},
		Registerer:           prometheus.NewRegistry(),
		DisableSignalHandler: true,
	}
}

func TestNewServiceConfiguresKafka(t *testing.T) {
	kafkatransport.Register()

	origPub := kafkatransport.PublisherFactory
	origSub := kafkatransport.SubscriberFactory
	t.Cleanup(func() {
		kafkatransport.PublisherFactory = origPub
		kafkatransport.SubscriberFactory = origSub
	})

	pub := &testPublisher{}
	sub := &testSubscriber{}
	var publishConfigs, subscribeConfigs int
	kafkatransport.PublisherFactory = func(config kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		publishConfigs++
		if len(config.Brokers) != 1 || config.Brokers[0] != "b1:9092" {
			t.Fatalf("unexpected brokers: %v", config.Brokers)
		}
		return pub, nil
	}
	kafkatransport.SubscriberFactory = func(config kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		subscribeConfigs++
		if config.ConsumerGroup != "group" {
			t.Fatalf("unexpected consumer group: %s", config.ConsumerGroup)
		}
		return sub, nil
	}

	cfg := configpkg.Default()
	cfg.KafkaBrokers = []string{"b1:9092"}
	cfg.KafkaConsumerGroup = "group"
	svc := NewService(&cfg, newTestLogger(), context.Background(), ServiceDependencies{
		Registerer:           prometheus.NewRegistry(),
		DisableSignalHandler: true,
	})

	if svc.publisher != pub {
		t.Fatal("expected kafka publisher to be assigned")
	}
	if svc.subscriber != sub {
		t.Fatal("expected kafka subscriber to be assigned")
	}
	if !svc.Capabilities().SupportsPartitioning {
		t.Fatal("expected kafka capabilities to support partitioning")
	}
	if publishConfigs != 1 || subscribeConfigs != 1 {
		t.Fatalf("factories invoked %d/%d times", publishConfigs, subscribeConfigs)
	}
}

func TestNewServiceConfiguresChannel(t *testing.T) {
	channeltransport.Register()

	cfg := testConfig()
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{
		Registerer:           prometheus.NewRegistry(),
		DisableSignalHandler: true,
	})
	t.Cleanup(func() { _ = svc.Close() })

	if svc.Publisher() == nil || svc.subscriber == nil {
		t.Fatal("expected channel transport to be assigned")
	}
	if svc.Capabilities().SupportsPartitioning {
		t.Fatal("channel transport must not report partitioning")
	}
}

func TestNewServicePanicsWhenFactoryFails(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when transport factory fails")
		}
	}()
	NewService(testConfig(), newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory:          staticTransportFactory{err: errors.New("boom")},
		DisableDefaultMiddlewares: true,
	})
}

func TestNewServiceUnsupportedPubSubPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for unsupported pubsub system")
		}
	}()

	cfg := testConfig()
	cfg.PubSubSystem = "gcp"
	NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{Registerer: prometheus.NewRegistry()})
}

func TestNewServiceExposesProvidedLogger(t *testing.T) {
	pub := &testPublisher{}
	sub := &testSubscriber{}
	logger := newTestLogger()
	deps := staticDeps(pub, sub)
	deps.DisableDefaultMiddlewares = true
	svc := NewService(testConfig(), logger, context.Background(), deps)

	if svc.Logger != logger {
		t.Fatal("expected service to expose provided logger")
	}
	if svc.publisher != pub || svc.subscriber != sub {
		t.Fatal("expected transport components to be assigned")
	}
	if svc.Metrics() == nil {
		t.Fatal("expected pipeline metrics to be created")
	}
}

func TestNewServiceUsesProvidedMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPipelineMetrics(reg)
	deps := staticDeps(&testPublisher{}, &testSubscriber{})
	deps.Metrics = metrics

	svc := NewService(testConfig(), newTestLogger(), context.Background(), deps)
	if svc.Metrics() != metrics {
		t.Fatal("expected provided metrics to be shared")
	}
}

func TestNewServiceRegistersMiddlewares(t *testing.T) {
	mwCalled := false
	deps := staticDeps(&testPublisher{}, &testSubscriber{})
	deps.Middlewares = []MiddlewareRegistration{
		{
			Name: "custom",
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				mwCalled = true
				return func(h message.HandlerFunc) message.HandlerFunc {
					return h
				}, nil
			},
		},
	}
	NewService(testConfig(), newTestLogger(), context.Background(), deps)
	if !mwCalled {
		t.Fatal("expected custom middleware builder to be called")
	}
}

func TestNewService_MiddlewareBuilderError(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when middleware registration fails")
		}
	}()

	deps := staticDeps(&testPublisher{}, &testSubscriber{})
	deps.Middlewares = []MiddlewareRegistration{{
		Name: "bad",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return nil, errors.New("boom")
		},
	}}
	NewService(testConfig(), newTestLogger(), context.Background(), deps)
}

func TestNewService_AnonymousMiddlewarePanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic")
		}
	}()
	deps := staticDeps(&testPublisher{}, &testSubscriber{})
	deps.Middlewares = []MiddlewareRegistration{{}}
	NewService(testConfig(), newTestLogger(), context.Background(), deps)
}

func TestNewServiceRegistersMetricsEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = true
	cfg.MetricsPort = 19091

	svc := NewService(cfg, newTestLogger(), context.Background(), staticDeps(&testPublisher{}, &testSubscriber{}))

	mux, ok := svc.httpServers[19091]
	if !ok {
		t.Fatal("expected metrics port to be registered")
	}
	svc.Metrics().RecordSent(testTopic)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(string(body), "userflow_pipeline_sent_total") {
		t.Fatalf("expected pipeline metrics in output, got %s", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/handlers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d for handlers endpoint", rec.Code)
	}
}

func TestServiceStartReturnsWhenContextCancelled(t *testing.T) {
	origRun := routerRun
	defer func() { routerRun = origRun }()
	called := make(chan struct{}, 1)
	routerRun = func(_ *message.Router, runCtx context.Context) error {
		called <- struct{}{}
		<-runCtx.Done()
		return runCtx.Err()
	}
	svc := &Service{Conf: testConfig()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("routerRun override not invoked")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service start did not return after context cancellation")
	}
}

func TestServiceStart(t *testing.T) {
	svc := newTestService(t)

	called := false
	originalRouterRun := routerRun
	defer func() { routerRun = originalRouterRun }()

	routerRun = func(router *message.Router, ctx context.Context) error {
		called = true
		return nil
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected routerRun to be called")
	}
}

func TestServiceStartStopsHTTPServersWithRouter(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterHTTPHandler(0, "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	originalRouterRun := routerRun
	defer func() { routerRun = originalRouterRun }()
	routerRun = func(router *message.Router, ctx context.Context) error {
		return errors.New("router failed")
	}

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || err.Error() != "router failed" {
			t.Fatalf("expected router error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return after router failure")
	}
}

func TestServiceClose(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !svc.router.IsClosed() {
		t.Fatal("expected router to be closed")
	}
}
