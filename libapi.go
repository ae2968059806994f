package userflow

import (
	runtimepkg "github.com/drblury/userflow/internal/runtime"
	configpkg "github.com/drblury/userflow/internal/runtime/config"
	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/userflow/internal/runtime/handlers"
	idspkg "github.com/drblury/userflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/userflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
	"github.com/drblury/userflow/internal/runtime/provision"
	"github.com/drblury/userflow/internal/runtime/schema"
	transportpkg "github.com/drblury/userflow/internal/runtime/transport"
	"github.com/drblury/userflow/internal/users"
	newtransport "github.com/drblury/userflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	ListenerConfig            = runtimepkg.ListenerConfig
	RetryPolicy               = runtimepkg.RetryPolicy
	JSONMessageContext[T any] = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any] = handlerpkg.JSONMessageHandler[T]
	MessageContextBase        = handlerpkg.MessageContextBase

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	HandlerInfo     = runtimepkg.HandlerInfo
	HandlerStats    = runtimepkg.HandlerStats
	HandlerSnapshot = runtimepkg.HandlerSnapshot
	PipelineMetrics = runtimepkg.PipelineMetrics

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Error taxonomy
	ErrorClass             = errspkg.Class
	MalformedPayloadError  = errspkg.MalformedPayloadError
	ValidationError        = errspkg.ValidationError
	SerializationError     = errspkg.SerializationError
	DeadLetterPublishError = errspkg.DeadLetterPublishError

	// Schemas and provisioning
	SchemaDocument = schema.Document
	SchemaRegistry = schema.Registry
	Outcome        = schema.Outcome
	TopicSpec      = provision.TopicSpec
	TopicAdmin     = provision.Admin

	// User pipeline
	User                = users.User
	Producer            = users.Producer
	ProducerConfig      = users.ProducerConfig
	Delivery            = users.Delivery
	DeliveryResult      = users.DeliveryResult
	Consumer            = users.Consumer
	ConsumerConfig      = users.ConsumerConfig
	Store               = users.Store
	Entity              = users.Entity
	MemoryStore         = users.MemoryStore
	UserService         = users.Service
	CreateUserRequest   = users.CreateUserRequest
	UserCreatedResponse = users.UserCreatedResponse
	ResponseStatus      = users.ResponseStatus

	// Transport capabilities
	Capabilities = transportpkg.Capabilities

	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
)

var (
	NewService             = runtimepkg.NewService
	DefaultConfig          = configpkg.Default
	RegisterMessageHandler = runtimepkg.RegisterMessageHandler

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	AcknowledgeMiddleware   = runtimepkg.AcknowledgeMiddleware
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware

	LoggingHooks       = runtimepkg.LoggingHooks
	AttemptFromContext = runtimepkg.AttemptFromContext
	NewPipelineMetrics = runtimepkg.NewPipelineMetrics
	NewRecordMessage   = runtimepkg.NewRecordMessage
	PublishRecord      = runtimepkg.PublishRecord

	NewUser        = users.NewUser
	ValidateUser   = users.Validate
	NewProducer    = users.NewProducer
	NewConsumer    = users.NewConsumer
	NewMemoryStore = users.NewMemoryStore
	NewUserService = users.NewService
	ToEntity       = users.ToEntity

	CompileSchema     = schema.Compile
	NewSchemaRegistry = schema.NewMemoryRegistry
	ValueSubject      = schema.ValueSubject

	NewProvisioner = provision.New
	Topics         = provision.Topics

	Classify           = errspkg.Classify
	IsRetryable        = errspkg.IsRetryable
	Reasons            = errspkg.Reasons
	NewValidationError = errspkg.NewValidationError

	// Transport capabilities
	GetCapabilities = transportpkg.GetCapabilities

	// Import individual transports via: _ "github.com/drblury/userflow/transport/kafka"
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Decode        = jsoncodec.Decode

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrConsumeMessageType   = errspkg.ErrConsumeMessageType
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrRecordRequired       = errspkg.ErrRecordRequired
	ErrSchemaNotFound       = errspkg.ErrSchemaNotFound
	ErrSchemaRequired       = errspkg.ErrSchemaRequired
	ErrProducerClosed       = errspkg.ErrProducerClosed
	ErrRecordTooLarge       = errspkg.ErrRecordTooLarge
	ErrStoreRequired        = errspkg.ErrStoreRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	NewCorrelationKey = idspkg.NewCorrelationKey
	CreateULID        = idspkg.CreateULID
)

// Metadata keys - use these constants for standard header names.
const (
	MetadataKeyCorrelationID   = metadatapkg.KeyCorrelationID
	MetadataKeyRecordKey       = metadatapkg.KeyRecordKey
	MetadataKeyRecordSchema    = metadatapkg.KeyRecordSchema
	MetadataKeyTargetPartition = metadatapkg.KeyTargetPartition

	MetadataKeyDeadLetterErrorMessage = metadatapkg.KeyDeadLetterErrorMessage
	MetadataKeyDeadLetterErrorClass   = metadatapkg.KeyDeadLetterErrorClass
	MetadataKeyDeadLetterAttempts     = metadatapkg.KeyDeadLetterAttempts
)

// Failure classes used for retry and dead-letter decisions.
const (
	ClassNone       = errspkg.ClassNone
	ClassMalformed  = errspkg.ClassMalformed
	ClassValidation = errspkg.ClassValidation
	ClassTransient  = errspkg.ClassTransient
)

const (
	AdultAge   = users.AdultAge
	UserSchema = users.Schema

	StatusSuccess = users.StatusSuccess
	StatusFailure = users.StatusFailure
)

func RegisterJSONHandler[T any](svc *Service, cfg ListenerConfig, handler JSONMessageHandler[T]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg, handler)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
