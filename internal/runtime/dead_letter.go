package runtime

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	idspkg "github.com/drblury/userflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

// deadLetterMiddleware wraps the retry cycle of one listener. When the cycle
// ends in an error the envelope is republished verbatim to deadLetterTopic and
// the error is swallowed so the envelope is acknowledged. A failed republish
// is logged and acknowledged as well.
func (s *Service) deadLetterMiddleware(info *HandlerInfo) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, counter := withAttemptCounter(msg.Context())
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err == nil {
				return msgs, nil
			}

			attempts := int(counter.n.Load())
			if attempts == 0 {
				attempts = 1
			}
			class := errspkg.Classify(err)
			dead := s.newDeadLetterMessage(msg, info.Topic, err, class, attempts)

			fields := loggingpkg.LogFields{
				"handler":           info.Name,
				"topic":             info.Topic,
				"dead_letter_topic": info.DeadLetterTopic,
				"partition":         msg.Metadata.Get(metadatapkg.KeyPartition),
				"offset":            msg.Metadata.Get(metadatapkg.KeyOffset),
				"key":               msg.Metadata.Get(metadatapkg.KeyRecordKey),
				"class":             string(class),
				"attempts":          attempts,
			}
			s.Logger.Error("Receiving DLT message", err, fields)

			if pubErr := s.publisher.Publish(info.DeadLetterTopic, dead); pubErr != nil {
				s.metrics.RecordDeadLetterFailure(info.Topic)
				info.Stats.onDeadLetter(false)
				s.Logger.Error("Failed to publish dead letter",
					&errspkg.DeadLetterPublishError{Topic: info.DeadLetterTopic, Err: pubErr}, fields)
				return nil, nil
			}

			s.metrics.RecordDeadLettered(info.Topic, string(class), attempts)
			info.Stats.onDeadLetter(true)
			return nil, nil
		}
	}
}

// newDeadLetterMessage copies payload, id and headers of the failed envelope
// and adds the dead-letter headers. On ordered, partitioned transports the
// copy is pinned to the partition the original was read from.
func (s *Service) newDeadLetterMessage(msg *message.Message, sourceTopic string, cause error, class errspkg.Class, attempts int) *message.Message {
	md := metadatapkg.FromWatermill(msg.Metadata).WithoutPrefix(metadatapkg.DeadLetterPrefix)
	partition := md[metadatapkg.KeyPartition]
	offset := md[metadatapkg.KeyOffset]
	delete(md, metadatapkg.KeyPartition)
	delete(md, metadatapkg.KeyOffset)
	delete(md, metadatapkg.KeyTargetPartition)

	md[metadatapkg.KeyDeadLetterID] = idspkg.CreateULID()
	md[metadatapkg.KeyDeadLetterErrorMessage] = cause.Error()
	md[metadatapkg.KeyDeadLetterErrorClass] = string(class)
	md[metadatapkg.KeyDeadLetterOriginalTopic] = sourceTopic
	md[metadatapkg.KeyDeadLetterAttempts] = strconv.Itoa(attempts)
	if partition != "" {
		md[metadatapkg.KeyDeadLetterOriginalPart] = partition
		if s.capabilities.PinsDeadLetters() {
			md[metadatapkg.KeyTargetPartition] = partition
		}
	}
	if offset != "" {
		md[metadatapkg.KeyDeadLetterOriginalOffset] = offset
	}

	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)

	dead := message.NewMessage(msg.UUID, payload)
	dead.Metadata = metadatapkg.ToWatermill(md)
	return dead
}
