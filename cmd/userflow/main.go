// Command userflow runs the user-created pipeline. The default "run"
// sub-command provisions the topics, registers the record schema and consumes
// until interrupted. "produce" publishes a single user and waits for the
// broker outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/drblury/userflow/internal/runtime"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	"github.com/drblury/userflow/internal/runtime/provision"
	"github.com/drblury/userflow/internal/runtime/schema"
	transportpkg "github.com/drblury/userflow/internal/runtime/transport"
	"github.com/drblury/userflow/internal/users"
	kafkatransport "github.com/drblury/userflow/transport/kafka"
)

// Build variables, set by ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const consumerName = "user-consumer"

// provisionTopics is replaced in tests.
var provisionTopics = func(ctx context.Context, cfg appConfig, logger loggingpkg.ServiceLogger) error {
	if !strings.EqualFold(cfg.Runtime.PubSubSystem, "kafka") {
		return nil
	}
	admin, err := kafkatransport.NewClusterAdmin(&cfg.Runtime)
	if err != nil {
		return fmt.Errorf("connect admin client: %w", err)
	}
	p, err := provision.New(admin, logger)
	if err != nil {
		_ = admin.Close()
		return err
	}
	defer p.Close()

	names := []string{cfg.Runtime.Topic, cfg.Runtime.DeadLetterTopic()}
	return p.EnsureTopics(ctx, provision.Topics(names,
		cfg.Runtime.TopicPartitions,
		cfg.Runtime.TopicReplicationFactor,
		cfg.Runtime.TopicConfigEntries)...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("userflow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file (optional)")
	showVersion := fs.Bool("version", false, "print version information")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "userflow %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	command, rest := "run", fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}
	switch command {
	case "run":
		return runConsumer(ctx, cfg, logger)
	case "produce":
		return runProducer(ctx, cfg, logger, rest, stdout, stderr)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// prepare runs the blocking startup steps. Either failing aborts startup.
func prepare(ctx context.Context, cfg appConfig, logger loggingpkg.ServiceLogger) (*schema.Document, error) {
	if err := provisionTopics(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("provision topics: %w", err)
	}

	registry := schema.NewMemoryRegistry()
	doc, err := registry.Register(ctx, schema.ValueSubject(cfg.Runtime.Topic), users.Schema)
	if err != nil {
		return nil, fmt.Errorf("register schema: %w", err)
	}
	logger.Info("Registered record schema", loggingpkg.LogFields{"subject": doc.Subject(), "version": doc.Version()})
	return doc, nil
}

func runConsumer(ctx context.Context, cfg appConfig, logger loggingpkg.ServiceLogger) error {
	doc, err := prepare(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc := runtime.NewService(&cfg.Runtime, logger, ctx, runtime.ServiceDependencies{DisableSignalHandler: true})

	consumer, err := users.NewConsumer(users.ConsumerConfig{
		Topic:   cfg.Runtime.Topic,
		Store:   users.NewMemoryStore(),
		Schema:  doc,
		Logger:  logger,
		Metrics: svc.Metrics(),
	})
	if err != nil {
		return err
	}
	if err := consumer.Register(svc, consumerName); err != nil {
		return err
	}

	runErr := svc.Start(ctx)
	closeErr := svc.Close()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}

func runProducer(ctx context.Context, cfg appConfig, logger loggingpkg.ServiceLogger, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("produce", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Int64("id", 0, "user id (required)")
	name := fs.String("name", "", "user name (required)")
	email := fs.String("email", "", "user email")
	age := fs.Int("age", -1, "user age, negative when unknown")
	timeout := fs.Duration("timeout", 30*time.Second, "how long to wait for the broker")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := users.CreateUserRequest{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			req.ID = id
		case "name":
			req.Name = name
		}
	})
	if *email != "" {
		req.Email = email
	}
	if *age >= 0 {
		req.Age = age
	}

	doc, err := prepare(ctx, cfg, logger)
	if err != nil {
		return err
	}

	transport, err := transportpkg.DefaultFactory().Build(ctx, &cfg.Runtime, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return err
	}
	defer func() {
		_ = transport.Subscriber.Close()
		_ = transport.Publisher.Close()
	}()

	producer, err := users.NewProducer(users.ProducerConfig{
		Publisher: transport.Publisher,
		Topic:     cfg.Runtime.Topic,
		Schema:    doc,
		Logger:    logger,

		MaxMessageSize: transport.Capabilities.MaxMessageSize,
	})
	if err != nil {
		return err
	}
	outcome := make(chan users.DeliveryResult, 1)
	producer.OnComplete(func(r users.DeliveryResult) { outcome <- r })

	inbound, err := users.NewService(producer)
	if err != nil {
		return err
	}
	resp, err := inbound.CreateUser(ctx, req)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	select {
	case r := <-outcome:
		if r.Err != nil {
			return fmt.Errorf("send user %s: %w", resp.Data.Key, r.Err)
		}
		fmt.Fprintf(stdout, "%s %s\n", resp.Data.Key, resp.Data.User)
	case <-waitCtx.Done():
		return fmt.Errorf("waiting for broker: %w", waitCtx.Err())
	}
	return producer.Close()
}
