// Package kafka provides a Kafka transport for userflow.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/userflow/internal/runtime/metadata"
	"github.com/drblury/userflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// AdminFactory allows overriding the cluster admin creation for testing.
var AdminFactory = func(brokers []string, conf *sarama.Config) (sarama.ClusterAdmin, error) {
	return sarama.NewClusterAdmin(brokers, conf)
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()

	pubConf := kafka.DefaultSaramaSyncPublisherConfig()
	if err := applyClientConfig(pubConf, cfg); err != nil {
		return transport.Transport{}, err
	}
	pubConf.Producer.Partitioner = NewPinnedPartitioner
	pubConf.Producer.MaxMessageBytes = int(transport.KafkaCapabilities.MaxMessageSize)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             Marshaler{},
			OverwriteSaramaConfig: pubConf,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subConf := kafka.DefaultSaramaSubscriberConfig()
	if err := applyClientConfig(subConf, cfg); err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}
	if timeout := cfg.GetKafkaPollTimeout(); timeout > 0 {
		subConf.Consumer.MaxWaitTime = timeout
	}
	subConf.Consumer.Offsets.Initial = initialOffset(cfg.GetKafkaInitialOffset())

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           Marshaler{},
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: subConf,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// NewClusterAdmin connects an admin client using the same client id and
// security settings as the publisher and subscriber.
func NewClusterAdmin(cfg transport.Config) (sarama.ClusterAdmin, error) {
	conf := sarama.NewConfig()
	if err := applyClientConfig(conf, cfg); err != nil {
		return nil, err
	}
	return AdminFactory(cfg.GetKafkaBrokers(), conf)
}

func applyClientConfig(conf *sarama.Config, cfg transport.Config) error {
	if id := cfg.GetKafkaClientID(); id != "" {
		conf.ClientID = id
	}

	switch strings.ToUpper(cfg.GetKafkaSecurityProtocol()) {
	case "", "PLAINTEXT":
	case "SASL_PLAINTEXT":
		enableSASLPlain(conf, cfg)
	case "SASL_SSL":
		enableSASLPlain(conf, cfg)
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	default:
		return fmt.Errorf("kafka: unsupported security protocol %q", cfg.GetKafkaSecurityProtocol())
	}
	return nil
}

func enableSASLPlain(conf *sarama.Config, cfg transport.Config) {
	conf.Net.SASL.Enable = true
	conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	conf.Net.SASL.User = cfg.GetKafkaSASLUsername()
	conf.Net.SASL.Password = cfg.GetKafkaSASLPassword()
	conf.Net.SASL.Handshake = true
}

func initialOffset(value string) int64 {
	if strings.EqualFold(value, "latest") {
		return sarama.OffsetNewest
	}
	return sarama.OffsetOldest
}

// Marshaler keys every Kafka record with its correlation key and honours a
// pinned partition. On the way in it exposes key, partition and offset as
// metadata.
type Marshaler struct {
	kafka.DefaultMarshaler
}

// Marshal implements kafka.Marshaler.
func (m Marshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	pm, err := m.DefaultMarshaler.Marshal(topic, msg)
	if err != nil {
		return nil, err
	}

	key := msg.Metadata.Get(metadata.KeyRecordKey)
	if key == "" {
		key = msg.UUID
	}
	pm.Key = sarama.StringEncoder(key)

	if raw := msg.Metadata.Get(metadata.KeyTargetPartition); raw != "" {
		partition, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("kafka: invalid %s %q: %w", metadata.KeyTargetPartition, raw, err)
		}
		pm.Partition = int32(partition)
		pm.Metadata = pinned{}
	}

	pm.Headers = withoutLocalHeaders(pm.Headers)
	return pm, nil
}

// Unmarshal implements kafka.Unmarshaler.
func (m Marshaler) Unmarshal(kafkaMsg *sarama.ConsumerMessage) (*message.Message, error) {
	msg, err := m.DefaultMarshaler.Unmarshal(kafkaMsg)
	if err != nil {
		return nil, err
	}
	if len(kafkaMsg.Key) > 0 {
		msg.Metadata.Set(metadata.KeyRecordKey, string(kafkaMsg.Key))
	}
	msg.Metadata.Set(metadata.KeyPartition, strconv.FormatInt(int64(kafkaMsg.Partition), 10))
	msg.Metadata.Set(metadata.KeyOffset, strconv.FormatInt(kafkaMsg.Offset, 10))
	return msg, nil
}

func withoutLocalHeaders(headers []sarama.RecordHeader) []sarama.RecordHeader {
	out := headers[:0]
	for _, h := range headers {
		switch string(h.Key) {
		case metadata.KeyTargetPartition, metadata.KeyPartition, metadata.KeyOffset:
			continue
		}
		out = append(out, h)
	}
	return out
}

// pinned marks a producer message whose Partition was chosen by the caller.
type pinned struct{}

// NewPinnedPartitioner returns a partitioner that honours pinned partitions and
// hashes the key otherwise.
func NewPinnedPartitioner(topic string) sarama.Partitioner {
	return &pinnedPartitioner{hash: sarama.NewHashPartitioner(topic)}
}

type pinnedPartitioner struct {
	hash sarama.Partitioner
}

func (p *pinnedPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if _, ok := msg.Metadata.(pinned); ok {
		if msg.Partition < 0 || msg.Partition >= numPartitions {
			return -1, sarama.ErrInvalidPartition
		}
		return msg.Partition, nil
	}
	return p.hash.Partition(msg, numPartitions)
}

func (p *pinnedPartitioner) RequiresConsistency() bool {
	return true
}
