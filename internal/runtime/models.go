package runtime

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
)

const latencySampleSize = 256

// HandlerInfo describes a registered listener.
type HandlerInfo struct {
	Name            string        `json:"name"`
	Topic           string        `json:"topic"`
	DeadLetterTopic string        `json:"dead_letter_topic"`
	Retry           RetryPolicy   `json:"-"`
	Stats           *HandlerStats `json:"-"`
}

// HandlerStats aggregates attempt outcomes of one listener.
type HandlerStats struct {
	mu sync.Mutex

	attempts           uint64
	failedAttempts     uint64
	deadLettered       uint64
	deadLetterFailures uint64
	totalProcessing    time.Duration
	lastProcessedAt    time.Time
	errors             ErrorBreakdown
	latency            *latencyWindow
}

// HandlerSnapshot is a point-in-time copy of a listener's statistics.
type HandlerSnapshot struct {
	Name               string         `json:"name"`
	Topic              string         `json:"topic"`
	DeadLetterTopic    string         `json:"dead_letter_topic"`
	MaxRetries         int            `json:"max_retries"`
	BackoffMillis      int64          `json:"backoff_ms"`
	Attempts           uint64         `json:"attempts"`
	FailedAttempts     uint64         `json:"failed_attempts"`
	DeadLettered       uint64         `json:"dead_lettered"`
	DeadLetterFailures uint64         `json:"dead_letter_failures"`
	LastProcessedAt    time.Time      `json:"last_processed_at"`
	Latency            LatencyMetrics `json:"latency"`
	Errors             ErrorBreakdown `json:"errors"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// ErrorBreakdown counts failed attempts per error class.
type ErrorBreakdown struct {
	Malformed  uint64 `json:"malformed"`
	Validation uint64 `json:"validation"`
	Transient  uint64 `json:"transient"`
	LastError  string `json:"last_error,omitempty"`
}

func newHandlerStats() *HandlerStats {
	return &HandlerStats{latency: newLatencyWindow(latencySampleSize)}
}

func (h *HandlerStats) onAttemptFinish(duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts++
	h.totalProcessing += duration
	h.lastProcessedAt = time.Now().UTC()
	h.latency.Add(duration)

	if err != nil {
		h.failedAttempts++
		h.errors.Record(errspkg.Classify(err), err)
	}
}

func (h *HandlerStats) onDeadLetter(published bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if published {
		h.deadLettered++
	} else {
		h.deadLetterFailures++
	}
}

func (h *HandlerStats) snapshot(info *HandlerInfo) HandlerSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HandlerSnapshot{
		Name:               info.Name,
		Topic:              info.Topic,
		DeadLetterTopic:    info.DeadLetterTopic,
		MaxRetries:         info.Retry.MaxRetries,
		BackoffMillis:      info.Retry.Backoff.Milliseconds(),
		Attempts:           h.attempts,
		FailedAttempts:     h.failedAttempts,
		DeadLettered:       h.deadLettered,
		DeadLetterFailures: h.deadLetterFailures,
		LastProcessedAt:    h.lastProcessedAt,
		Latency:            h.latency.Snapshot(),
		Errors:             h.errors,
	}
	if h.attempts > 0 {
		snap.Latency.AverageNs = int64(h.totalProcessing) / int64(h.attempts)
	}
	return snap
}

// Record counts one failed attempt.
func (e *ErrorBreakdown) Record(class errspkg.Class, err error) {
	switch class {
	case errspkg.ClassNone:
		return
	case errspkg.ClassMalformed:
		e.Malformed++
	case errspkg.ClassValidation:
		e.Validation++
	default:
		e.Transient++
	}
	e.LastError = err.Error()
}

func wrapHandlerWithStats(handler message.HandlerFunc, stats *HandlerStats) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		start := time.Now()
		msgs, err := handler(msg)
		stats.onAttemptFinish(time.Since(start), err)
		return msgs, err
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}
