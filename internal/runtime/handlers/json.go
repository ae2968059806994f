package handlers

import (
	"context"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/userflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

// JSONMessageContext exposes the decoded payload together with the envelope
// headers and coordinates.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
	// Raw is the payload exactly as it arrived.
	Raw []byte
}

// JSONMessageHandler processes one decoded record. A nil error acknowledges it.
type JSONMessageHandler[T any] func(ctx context.Context, event JSONMessageContext[T]) error

// BuildJSONHandler converts a typed JSON handler into a Watermill handler.
// Payloads that do not decode into T fail with *errors.MalformedPayloadError.
func BuildJSONHandler[T any](handler JSONMessageHandler[T], logger loggingpkg.ServiceLogger) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		typed := prototypeFactory()

		if err := jsoncodec.Unmarshal(msg.Payload, typed); err != nil {
			return nil, &errspkg.MalformedPayloadError{Payload: string(msg.Payload), Err: err}
		}

		evt := JSONMessageContext[T]{
			MessageContextBase: MessageContextBase{
				Metadata: metadatapkg.FromWatermill(msg.Metadata),
				Logger:   logger,
			},
			Payload: typed,
			Raw:     msg.Payload,
		}

		return nil, handler(msg.Context(), evt)
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrConsumeMessageType
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}
