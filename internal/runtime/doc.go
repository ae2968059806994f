/*
Package runtime provides the record processing infrastructure for userflow.

# Architecture Overview

The runtime package hosts a Watermill router over a pluggable transport
(Kafka in production, Go channels in tests) and attaches a failure policy to
every listener: transient failures are retried with a fixed backoff, and
whatever still fails is republished to the listener's dead-letter topic and
acknowledged.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill)
  - Publisher and subscriber connections
  - Router-level middleware chain
  - HTTP servers for metrics and handler statistics
  - Pipeline metrics shared with producers

## Listener Registration (registration*.go)

  - registration.go: Raw Watermill handlers and the per-listener chain
  - registration_json.go: Typed JSON handlers

Each listener runs behind the same chain, outermost first: detached context,
dead-letter routing, retry, attempt counting, job hooks, panic recovery.

## Middleware (middleware.go)

Router-level stages applied to every listener:
  - Acknowledge: No envelope is ever left unacknowledged
  - CorrelationID: Reuses the record key for traceability
  - LogMessages: Debug logging of payloads and headers
  - Tracer: OpenTelemetry spans
  - Metrics: Prometheus router metrics

## Dead Letters (dead_letter.go)

Failed envelopes are copied verbatim, with their key and headers, to the
dead-letter topic. Kafka copies stay on the partition they were read from.

## Stats & Monitoring (models.go, status.go, pipeline_metrics.go)

  - Attempt counts and latency percentiles per listener
  - Failed attempts broken down by error class
  - Prometheus counters for sent, consumed, rejected, retried and
    dead-lettered records

# Sub-packages

  - config/: Service configuration with validation
  - errors/: Sentinel errors and failure classes
  - handlers/: Message context types and handler building
  - ids/: Record keys and dead-letter ids
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Header names and helpers
  - provision/: Idempotent topic creation
  - schema/: JSON Schema registry and record validation
  - transport/: Transport factory glue

# Usage Example

	svc := runtime.NewService(cfg, logger, ctx, runtime.ServiceDependencies{})

	runtime.RegisterJSONHandler(svc, runtime.ListenerConfig{
		Name:  "user-consumer",
		Topic: cfg.Topic,
		Hooks: runtime.LoggingHooks(logger, "Error processing user message"),
	}, consumeUser)

	svc.Start(ctx)
*/
package runtime
