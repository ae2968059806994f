package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/userflow/internal/runtime/config"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	transportpkg "github.com/drblury/userflow/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const httpShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// Registerer receives router and pipeline metrics. Defaults to the
	// Prometheus default registerer.
	Registerer prometheus.Registerer
	// Metrics is shared with producers built on top of the service. Created
	// against Registerer when nil.
	Metrics *PipelineMetrics
	// DisableSignalHandler leaves SIGINT/SIGTERM handling to the caller.
	DisableSignalHandler bool
}

// Service wires a Watermill router, publisher, subscriber, and middleware chain.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	capabilities transportpkg.Capabilities

	registerer prometheus.Registerer
	metrics    *PipelineMetrics

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration. Register handlers
// on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"config":        conf.String(),
		})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		registerer: deps.Registerer,
		metrics:    deps.Metrics,
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.metrics == nil {
		s.metrics = NewPipelineMetrics(s.registerer)
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}

	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	s.capabilities = transport.Capabilities

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: conf.EffectiveCloseTimeout(),
	}, wmLogger)
	if err != nil {
		panic(err)
	}

	s.router = router
	if !deps.DisableSignalHandler {
		s.router.AddPlugin(plugin.SignalsHandler)
	}

	s.registerConfiguredMiddlewares(deps)

	return s
}

// Start runs the underlying Watermill router, and the HTTP servers registered
// on the service, until the provided context is cancelled or the router stops.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	s.startHTTPServers(gctx, g)
	g.Go(func() error {
		defer cancel()
		return routerRun(s.router, gctx)
	})
	return g.Wait()
}

// Running is closed once every registered listener has subscribed.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Publisher returns the transport publisher so producers share the
// connection used for dead letters.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

// Subscriber returns the transport subscriber, for example to tail a
// dead-letter topic.
func (s *Service) Subscriber() message.Subscriber {
	return s.subscriber
}

// Metrics returns the pipeline metrics shared by listeners and producers.
func (s *Service) Metrics() *PipelineMetrics {
	return s.metrics
}

// Capabilities reports what the configured transport supports natively.
func (s *Service) Capabilities() transportpkg.Capabilities {
	return s.capabilities
}

// Close releases the publisher and subscriber. Call it after Start returned.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil && !s.router.IsClosed() {
		errs = append(errs, s.router.Close())
	}
	if s.subscriber != nil {
		errs = append(errs, s.subscriber.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			panic(fmt.Sprintf("failed to register middleware %s: %v", name, err))
		}
	}
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context, g *errgroup.Group) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
}
