// Package userflow is a small Kafka pipeline for user records built on top of
// Watermill. It wires a router, a publisher and a subscriber from Config,
// provisions the topics it depends on, and attaches one failure policy to
// every listener: transient failures are retried with a fixed backoff, while
// malformed and invalid records go straight to the dead-letter topic.
//
// A Producer encodes users against the registered JSON Schema and publishes
// them under a fresh UUID v4 key without waiting for the broker; the outcome
// arrives through the returned Delivery. A Consumer validates each decoded
// record, warns about users under AdultAge and hands valid ones to a Store.
// Every envelope is acknowledged whatever the outcome, so the broker never
// redelivers a record the pipeline already dealt with.
//
// # Transports
//
//   - kafka: Sarama based, with SASL PLAIN and dead letters pinned to the
//     partition the record was read from
//   - channel: In-memory Go channels for tests and local runs
//
// # Middleware
//
// The default router chain acknowledges every envelope, propagates the record
// key as correlation id, logs payloads at debug level, opens an OpenTelemetry
// span per envelope and, when enabled, records Prometheus router metrics.
// Custom middleware can be added via ServiceDependencies.Middlewares.
//
// # Job Hooks
//
// JobHooks provide OnJobStart, OnJobDone and OnJobError callbacks around every
// attempt, retries included. LoggingHooks logs retryable failures.
package userflow
