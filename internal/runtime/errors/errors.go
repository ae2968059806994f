package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrServiceRequired      = sterrors.New("userflow: event service is required")
	ErrHandlerRequired      = sterrors.New("userflow: handler function is required")
	ErrConsumeQueueRequired = sterrors.New("userflow: consume queue is required")
	ErrHandlerNameRequired  = sterrors.New("userflow: handler name is required")
	ErrPublisherRequired    = sterrors.New("userflow: publisher is required")
	ErrTopicRequired        = sterrors.New("userflow: topic is required")
	ErrRecordRequired       = sterrors.New("userflow: record is required")
	ErrSchemaNotFound       = sterrors.New("userflow: schema subject not registered")
	ErrConsumeMessageType   = sterrors.New("userflow: consume message type must be a non-nil pointer")
	ErrSchemaRequired       = sterrors.New("userflow: schema document is required")
	ErrProducerClosed       = sterrors.New("userflow: producer is closed")
	ErrRecordTooLarge       = sterrors.New("userflow: record exceeds the transport message size")
	ErrStoreRequired        = sterrors.New("userflow: store is required")
)

// Class groups handler failures by how the router treats them.
type Class string

const (
	ClassNone       Class = "none"
	ClassMalformed  Class = "malformed"
	ClassValidation Class = "validation"
	ClassTransient  Class = "transient"
)

// MalformedPayloadError is returned when a payload cannot be decoded into a record.
type MalformedPayloadError struct {
	Payload string
	Err     error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("userflow: malformed payload %q: %v", e.Payload, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// ValidationError carries every violated constraint of a decoded record.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 {
		return "userflow: validation failed"
	}
	return "userflow: validation failed: " + strings.Join(e.Reasons, "; ")
}

// SerializationError marks a publish that failed before anything was enqueued.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return "userflow: schema validation failed: " + e.Err.Error()
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// DeadLetterPublishError wraps a failure to republish an envelope to its dead-letter topic.
type DeadLetterPublishError struct {
	Topic string
	Err   error
}

func (e *DeadLetterPublishError) Error() string {
	return fmt.Sprintf("userflow: publish to dead letter topic %s: %v", e.Topic, e.Err)
}

func (e *DeadLetterPublishError) Unwrap() error {
	return e.Err
}

// NewValidationError returns nil when no reasons are supplied.
func NewValidationError(reasons []string) error {
	if len(reasons) == 0 {
		return nil
	}
	cloned := make([]string, len(reasons))
	copy(cloned, reasons)
	return &ValidationError{Reasons: cloned}
}

// Classify maps an error onto its routing class. Unknown errors are transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var malformed *MalformedPayloadError
	if sterrors.As(err, &malformed) {
		return ClassMalformed
	}

	var validation *ValidationError
	if sterrors.As(err, &validation) {
		return ClassValidation
	}

	return ClassTransient
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

// Reasons extracts the violated constraints from err, if any.
func Reasons(err error) []string {
	var validation *ValidationError
	if sterrors.As(err, &validation) {
		return validation.Reasons
	}
	return nil
}
