package users

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/userflow/internal/runtime"
	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	idspkg "github.com/drblury/userflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/userflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
	"github.com/drblury/userflow/internal/runtime/schema"
)

// ProducerConfig holds the collaborators of a Producer.
type ProducerConfig struct {
	Publisher message.Publisher
	Topic     string
	// Schema is the registered document records are encoded against.
	Schema  *schema.Document
	Logger  loggingpkg.ServiceLogger
	Metrics *runtime.PipelineMetrics
	// MaxMessageSize rejects larger encoded records at the call site. Zero
	// disables the check.
	MaxMessageSize int64
}

// DeliveryResult is the broker outcome of one publish.
type DeliveryResult struct {
	Topic string
	Key   string
	User  User
	Err   error
}

// Delivery resolves once the broker accepted or rejected a record.
type Delivery struct {
	key    string
	done   chan struct{}
	result DeliveryResult
}

func newDelivery(key string) *Delivery {
	return &Delivery{key: key, done: make(chan struct{})}
}

// Key returns the broker key the record was published with.
func (d *Delivery) Key() string { return d.key }

// Done is closed when the outcome is known.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until the outcome is known or ctx ends. The returned error is
// the broker failure, or ctx.Err() when ctx ended first.
func (d *Delivery) Wait(ctx context.Context) (DeliveryResult, error) {
	select {
	case <-d.done:
		return d.result, d.result.Err
	case <-ctx.Done():
		return DeliveryResult{Key: d.key}, ctx.Err()
	}
}

func (d *Delivery) resolve(result DeliveryResult) {
	d.result = result
	close(d.done)
}

// Producer publishes user records. It is safe for concurrent use. Records
// are handed to the publisher by a single dispatcher in the order Publish
// accepted them.
type Producer struct {
	publisher message.Publisher
	topic     string
	document  *schema.Document
	logger    loggingpkg.ServiceLogger
	metrics   *runtime.PipelineMetrics
	maxSize   int64

	mu        sync.Mutex
	closed    bool
	queue     []*pending
	inflight  int
	drained   []chan struct{}
	observers []func(DeliveryResult)

	notify  chan struct{}
	stopped chan struct{}
}

type pending struct {
	ctx       context.Context
	user      User
	payload   []byte
	metadata  metadatapkg.Metadata
	delivery  *Delivery
	observers []func(DeliveryResult)
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if cfg.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if cfg.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if cfg.Schema == nil {
		return nil, errspkg.ErrSchemaRequired
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("users: producer logger is required")
	}
	p := &Producer{
		publisher: cfg.Publisher,
		topic:     cfg.Topic,
		document:  cfg.Schema,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		maxSize:   cfg.MaxMessageSize,
		notify:    make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go p.dispatch()
	return p, nil
}

// OnComplete registers fn to run after every broker outcome.
func (p *Producer) OnComplete(fn func(DeliveryResult)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Publish encodes u, checks it against the schema and queues it for the
// publisher without waiting for the broker. Encoding and schema failures
// return a *errors.SerializationError and nothing is sent. Broker failures
// only surface through the returned Delivery.
func (p *Producer) Publish(ctx context.Context, u User) (*Delivery, error) {
	payload, err := p.encode(u)
	if err != nil {
		p.logger.Error("Schema validation failed", err, loggingpkg.LogFields{
			"topic":   p.topic,
			"user":    u.String(),
			"reasons": errspkg.Reasons(err),
		})
		return nil, err
	}

	key := idspkg.NewCorrelationKey()
	job := &pending{
		ctx:      context.WithoutCancel(ctx),
		user:     u,
		payload:  payload,
		metadata: metadatapkg.New(metadatapkg.KeyRecordSchema, fmt.Sprintf("%s/%d", p.document.Subject(), p.document.Version())),
		delivery: newDelivery(key),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errspkg.ErrProducerClosed
	}
	job.observers = append([]func(DeliveryResult){}, p.observers...)
	p.queue = append(p.queue, job)
	p.inflight++
	p.logger.Info("Sent user", loggingpkg.LogFields{"topic": p.topic, "key": key, "user": u.String()})
	p.mu.Unlock()
	p.wake()

	return job.delivery, nil
}

func (p *Producer) encode(u User) ([]byte, error) {
	payload, err := jsoncodec.Marshal(u)
	if err != nil {
		return nil, &errspkg.SerializationError{Err: err}
	}
	reasons, err := p.document.Check(payload)
	if err != nil {
		return nil, &errspkg.SerializationError{Err: err}
	}
	if len(reasons) > 0 {
		return nil, &errspkg.SerializationError{Err: errspkg.NewValidationError(reasons)}
	}
	if p.maxSize > 0 && int64(len(payload)) > p.maxSize {
		return nil, &errspkg.SerializationError{Err: fmt.Errorf("%w: %d bytes, limit %d", errspkg.ErrRecordTooLarge, len(payload), p.maxSize)}
	}
	return payload, nil
}

func (p *Producer) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dispatch publishes queued records one at a time until the producer is
// closed and the queue is empty.
func (p *Producer) dispatch() {
	defer close(p.stopped)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.notify
			continue
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.send(job)

		p.mu.Lock()
		p.inflight--
		if p.inflight == 0 {
			for _, ch := range p.drained {
				close(ch)
			}
			p.drained = nil
		}
		p.mu.Unlock()
	}
}

func (p *Producer) send(job *pending) {
	key := job.delivery.Key()
	err := runtime.PublishRecord(job.ctx, p.publisher, p.topic, key, job.payload, job.metadata)
	result := DeliveryResult{Topic: p.topic, Key: key, User: job.user, Err: err}
	if err != nil {
		p.metrics.RecordSendFailure(p.topic)
		p.logger.Error("Failed to send user", err, loggingpkg.LogFields{"topic": p.topic, "key": key})
	} else {
		p.metrics.RecordSent(p.topic)
		p.logger.Info("User sent successfully", loggingpkg.LogFields{
			"topic": p.topic,
			"key":   key,
			"value": string(job.payload),
		})
	}

	job.delivery.resolve(result)
	for _, fn := range job.observers {
		fn(result)
	}
}

// Flush waits for every outstanding delivery or for ctx to end.
func (p *Producer) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.inflight == 0 {
		p.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	p.drained = append(p.drained, done)
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new publishes and waits for outstanding deliveries. The
// publisher itself is owned by the caller. Close is idempotent.
func (p *Producer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wake()
	<-p.stopped
	return nil
}
