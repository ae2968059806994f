package runtime

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics counts what happens to user records on both sides of the
// topic. A nil *PipelineMetrics records nothing.
type PipelineMetrics struct {
	mu sync.Mutex

	sent               *prometheus.CounterVec
	sendFailures       *prometheus.CounterVec
	consumed           *prometheus.CounterVec
	rejected           *prometheus.CounterVec
	underage           *prometheus.CounterVec
	retries            *prometheus.CounterVec
	deadLettered       *prometheus.CounterVec
	deadLetterFailures *prometheus.CounterVec
	attemptsHist       *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newPipelineCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "userflow",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewPipelineMetrics creates the collectors. Call Register to expose them.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		registerer:         registerer,
		sent:               newPipelineCounterVec("sent_total", "Records acknowledged by the broker", []string{"topic"}),
		sendFailures:       newPipelineCounterVec("send_failures_total", "Records the broker did not accept", []string{"topic"}),
		consumed:           newPipelineCounterVec("consumed_total", "Records that passed validation and were stored", []string{"topic"}),
		rejected:           newPipelineCounterVec("rejected_total", "Records rejected without retry", []string{"topic", "class"}),
		underage:           newPipelineCounterVec("underage_total", "Valid records whose age is below the adult threshold", []string{"topic"}),
		retries:            newPipelineCounterVec("retries_total", "Handler attempts after the first one", []string{"topic"}),
		deadLettered:       newPipelineCounterVec("dead_lettered_total", "Envelopes routed to the dead-letter topic", []string{"topic", "class"}),
		deadLetterFailures: newPipelineCounterVec("dead_letter_failures_total", "Envelopes that could not be routed to the dead-letter topic", []string{"topic"}),
		attemptsHist: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "userflow",
				Subsystem: "pipeline",
				Name:      "attempts_before_dead_letter",
				Help:      "Handler attempts made before an envelope was dead-lettered",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"topic"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times;
// collectors already registered by another instance are reused.
func (m *PipelineMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range []**prometheus.CounterVec{
		&m.sent, &m.sendFailures, &m.consumed, &m.rejected, &m.underage,
		&m.retries, &m.deadLettered, &m.deadLetterFailures,
	} {
		existing, err := m.register(*c)
		if err != nil {
			return err
		}
		*c = existing.(*prometheus.CounterVec)
	}

	existing, err := m.register(m.attemptsHist)
	if err != nil {
		return err
	}
	m.attemptsHist = existing.(*prometheus.HistogramVec)

	m.registered = true
	return nil
}

func (m *PipelineMetrics) register(c prometheus.Collector) (prometheus.Collector, error) {
	err := m.registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector, nil
	}
	return nil, err
}

// RecordSent counts a record acknowledged by the broker.
func (m *PipelineMetrics) RecordSent(topic string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(topic).Inc()
}

// RecordSendFailure counts a record the broker did not accept.
func (m *PipelineMetrics) RecordSendFailure(topic string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(topic).Inc()
}

// RecordConsumed counts a record that was validated and stored.
func (m *PipelineMetrics) RecordConsumed(topic string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic).Inc()
}

// RecordRejected counts a non-retryable rejection (malformed or validation).
func (m *PipelineMetrics) RecordRejected(topic, class string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(topic, class).Inc()
}

// RecordUnderage counts a valid record below the adult threshold.
func (m *PipelineMetrics) RecordUnderage(topic string) {
	if m == nil {
		return
	}
	m.underage.WithLabelValues(topic).Inc()
}

// RecordRetry counts a handler attempt after the first.
func (m *PipelineMetrics) RecordRetry(topic string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(topic).Inc()
}

// RecordDeadLettered counts an envelope routed to the dead-letter topic.
func (m *PipelineMetrics) RecordDeadLettered(topic, class string, attempts int) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(topic, class).Inc()
	m.attemptsHist.WithLabelValues(topic).Observe(float64(attempts))
}

// RecordDeadLetterFailure counts an envelope whose dead-letter publish failed.
func (m *PipelineMetrics) RecordDeadLetterFailure(topic string) {
	if m == nil {
		return
	}
	m.deadLetterFailures.WithLabelValues(topic).Inc()
}

// Reset clears every series (useful for testing).
func (m *PipelineMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent.Reset()
	m.sendFailures.Reset()
	m.consumed.Reset()
	m.rejected.Reset()
	m.underage.Reset()
	m.retries.Reset()
	m.deadLettered.Reset()
	m.deadLetterFailures.Reset()
	m.attemptsHist.Reset()
}
