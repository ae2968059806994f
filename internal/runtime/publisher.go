package runtime

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	idspkg "github.com/drblury/userflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

// NewRecordMessage builds the envelope for an already encoded payload. The key
// doubles as envelope id and broker key; an empty key gets a fresh UUID v4.
func NewRecordMessage(key string, payload []byte, metadata metadatapkg.Metadata) *message.Message {
	if key == "" {
		key = idspkg.NewCorrelationKey()
	}

	msg := message.NewMessage(key, payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	msg.Metadata.Set(metadatapkg.KeyRecordKey, key)
	return msg
}

// PublishRecord publishes payload verbatim to topic. Schema enforcement is the
// caller's concern.
func PublishRecord(ctx context.Context, publisher message.Publisher, topic, key string, payload []byte, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg := NewRecordMessage(key, payload, metadata)
	if ctx != nil {
		msg.SetContext(ctx)
	}

	return publisher.Publish(topic, msg)
}

// PublishRecord publishes through the Service publisher.
func (s *Service) PublishRecord(ctx context.Context, topic, key string, payload []byte, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errors.New("event service is nil")
	}
	return PublishRecord(ctx, s.publisher, topic, key, payload, metadata)
}
