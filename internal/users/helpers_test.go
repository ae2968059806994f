package users

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/drblury/userflow/internal/runtime"
	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	"github.com/drblury/userflow/internal/runtime/schema"
)

const testTopic = "user-created"

type logLine struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type recordingLogger struct {
	mu     *sync.Mutex
	lines  *[]logLine
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (r *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, lines: r.lines, fields: merged}
}

func (r *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := loggingpkg.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.lines = append(*r.lines, logLine{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.record("debug", msg, nil, fields)
}
func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.record("info", msg, nil, fields)
}
func (r *recordingLogger) Warn(msg string, fields loggingpkg.LogFields) {
	r.record("warn", msg, nil, fields)
}
func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.record("trace", msg, nil, fields)
}
func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingLogger) find(level, msg string) []logLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logLine
	for _, l := range *r.lines {
		if l.level == level && l.msg == msg {
			out = append(out, l)
		}
	}
	return out
}

func (r *recordingLogger) count(level, msg string) int {
	return len(r.find(level, msg))
}

// capturePublisher records published envelopes. When gate is set every
// publish blocks until it is closed.
type capturePublisher struct {
	mu       sync.Mutex
	messages []*message.Message
	topics   []string
	err      error
	gate     chan struct{}
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, m := range msgs {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, m)
	}
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) published() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages...)
}

var errBrokerDown = errors.New("broker unavailable")

func testDocument(t *testing.T) *schema.Document {
	t.Helper()
	doc, err := schema.NewMemoryRegistry().Register(context.Background(), schema.ValueSubject(testTopic), Schema)
	if err != nil {
		t.Fatalf("register schema: %v", err)
	}
	return doc
}

func testMetrics(t *testing.T) (*runtime.PipelineMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := runtime.NewPipelineMetrics(reg)
	if err := m.Register(); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	return m, reg
}

// counterValue sums the userflow_pipeline_<name> series matching labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != "userflow_pipeline_"+name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if matches(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func matches(m *dto.Metric, labels map[string]string) bool {
	for k, want := range labels {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == want {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
