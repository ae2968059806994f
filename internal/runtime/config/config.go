package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported Kafka security protocols.
const (
	SecurityPlaintext     = "PLAINTEXT"
	SecuritySASLPlaintext = "SASL_PLAINTEXT"
	SecuritySASLSSL       = "SASL_SSL"
)

// Initial offsets accepted by KafkaInitialOffset.
const (
	OffsetEarliest = "earliest"
	OffsetLatest   = "latest"
)

// Config groups the settings required to run the user pipeline: transport,
// topics, retry policy and the metrics endpoint.
type Config struct {
	// PubSubSystem selects the backing message infrastructure. Supported values:
	// "kafka" and "channel" (in-memory, for tests and local runs).
	PubSubSystem string

	// Kafka configuration.
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
	// KafkaSecurityProtocol is one of PLAINTEXT, SASL_PLAINTEXT or SASL_SSL.
	// Empty means PLAINTEXT.
	KafkaSecurityProtocol string
	KafkaSASLUsername     string
	KafkaSASLPassword     string
	// KafkaPollTimeout bounds how long a fetch waits for data so workers can
	// notice shutdown.
	KafkaPollTimeout time.Duration
	// KafkaInitialOffset is "earliest" or "latest". Empty means earliest.
	KafkaInitialOffset string

	// Topic is the main topic records are produced to and consumed from.
	Topic string
	// DeadLetterSuffix is appended to Topic to derive the dead-letter topic.
	DeadLetterSuffix string
	// TopicPartitions and TopicReplicationFactor are applied by the provisioner
	// to both the main and the dead-letter topic.
	TopicPartitions        int32
	TopicReplicationFactor int16
	// TopicConfigEntries are broker-side topic settings such as retention.ms.
	TopicConfigEntries map[string]string

	// Retry policy. Attempts are separated by a fixed RetryBackoff.
	RetryMaxRetries int
	RetryBackoff    time.Duration

	// CloseTimeout bounds router shutdown. Zero derives a value large enough to
	// let an in-flight retry cycle finish.
	CloseTimeout time.Duration

	// Metrics configuration.
	MetricsEnabled bool
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int
}

// Default returns the reference deployment: one partition, replication one,
// three retries one second apart.
func Default() Config {
	return Config{
		PubSubSystem:           "kafka",
		KafkaBrokers:           []string{"localhost:9092"},
		KafkaClientID:          "userflow",
		KafkaConsumerGroup:     "userflow-consumer",
		KafkaSecurityProtocol:  SecurityPlaintext,
		KafkaPollTimeout:       time.Second,
		KafkaInitialOffset:     OffsetEarliest,
		Topic:                  "user-created",
		DeadLetterSuffix:       "-dlt",
		TopicPartitions:        1,
		TopicReplicationFactor: 1,
		RetryMaxRetries:        3,
		RetryBackoff:           time.Second,
		MetricsPort:            9090,
	}
}

// DeadLetterTopic returns the topic failed records are routed to.
func (c *Config) DeadLetterTopic() string {
	return c.Topic + c.DeadLetterSuffix
}

// EffectiveCloseTimeout returns CloseTimeout, or one full retry cycle plus a
// grace period when it is unset.
func (c *Config) EffectiveCloseTimeout() time.Duration {
	if c.CloseTimeout > 0 {
		return c.CloseTimeout
	}
	return time.Duration(c.RetryMaxRetries+1)*c.RetryBackoff + 5*time.Second
}

// Getter methods to implement transport.Config interface.
func (c *Config) GetPubSubSystem() string          { return c.PubSubSystem }
func (c *Config) GetKafkaBrokers() []string        { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string         { return c.KafkaClientID }
func (c *Config) GetKafkaConsumerGroup() string    { return c.KafkaConsumerGroup }
func (c *Config) GetKafkaSecurityProtocol() string { return c.KafkaSecurityProtocol }
func (c *Config) GetKafkaSASLUsername() string     { return c.KafkaSASLUsername }
func (c *Config) GetKafkaSASLPassword() string     { return c.KafkaSASLPassword }
func (c *Config) GetKafkaPollTimeout() time.Duration {
	return c.KafkaPollTimeout
}
func (c *Config) GetKafkaInitialOffset() string { return c.KafkaInitialOffset }

func (c Config) String() string {
	// Create a copy to avoid modifying the original
	copy := c
	if copy.KafkaSASLPassword != "" {
		copy.KafkaSASLPassword = "***REDACTED***"
	}
	// Use a type alias to avoid infinite recursion when printing
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// Validate checks that the configuration has all required fields for the selected transport.
// Returns an error describing every missing or invalid value.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateTopics()...)
	errs = append(errs, c.validateRetry()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateTransport() []error {
	if !strings.EqualFold(c.PubSubSystem, "kafka") {
		// channel and custom transports have no required config
		return nil
	}
	var errs []error
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("kafka: brokers are required"))
	}
	if c.KafkaConsumerGroup == "" {
		errs = append(errs, errors.New("kafka: consumer group is required"))
	}
	switch strings.ToUpper(c.KafkaSecurityProtocol) {
	case "", SecurityPlaintext:
	case SecuritySASLPlaintext, SecuritySASLSSL:
		if c.KafkaSASLUsername == "" || c.KafkaSASLPassword == "" {
			errs = append(errs, errors.New("kafka: SASL username and password are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("kafka: unsupported security protocol %q", c.KafkaSecurityProtocol))
	}
	switch strings.ToLower(c.KafkaInitialOffset) {
	case "", OffsetEarliest, OffsetLatest:
	default:
		errs = append(errs, fmt.Errorf("kafka: unsupported initial offset %q", c.KafkaInitialOffset))
	}
	if c.KafkaPollTimeout < 0 {
		errs = append(errs, errors.New("kafka: poll timeout cannot be negative"))
	}
	return errs
}

func (c *Config) validateTopics() []error {
	var errs []error
	if c.Topic == "" {
		errs = append(errs, errors.New("topic: name is required"))
	}
	if c.DeadLetterSuffix == "" {
		errs = append(errs, errors.New("topic: dead-letter suffix is required"))
	}
	if c.TopicPartitions < 1 {
		errs = append(errs, fmt.Errorf("topic: partitions must be at least 1, got %d", c.TopicPartitions))
	}
	if c.TopicReplicationFactor < 1 {
		errs = append(errs, fmt.Errorf("topic: replication factor must be at least 1, got %d", c.TopicReplicationFactor))
	}
	return errs
}

func (c *Config) validateRetry() []error {
	var errs []error
	if c.RetryMaxRetries < 0 {
		errs = append(errs, errors.New("retry: max retries cannot be negative"))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("retry: backoff cannot be negative"))
	}
	if c.CloseTimeout < 0 {
		errs = append(errs, errors.New("router: close timeout cannot be negative"))
	}
	return errs
}

func (c *Config) validatePorts() []error {
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return []error{fmt.Errorf("metrics: invalid port %d", c.MetricsPort)}
	}
	return nil
}

// ValidateConfig is a convenience function to validate a config pointer.
// Returns nil if the config is valid.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
