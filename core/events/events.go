// Package events defines the transactions, spans and errors recorded by the
// agent and converts them into OTLP trace data.
package events

import (
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/collector/pdata/pcommon"
)

// Transaction is a named unit of work. It is safe for concurrent use.
type Transaction struct {
	name    string
	traceID pcommon.TraceID
	spanID  pcommon.SpanID
	start   time.Time

	mu     sync.Mutex
	end    time.Time
	result string
	spans  []*Span
	errors []*Error
	labels map[string]string
}

// Name returns the transaction name.
func (t *Transaction) Name() string { return t.name }

// TraceID returns the trace the transaction roots.
func (t *Transaction) TraceID() pcommon.TraceID { return t.traceID }

// SpanID returns the id of the transaction's root span.
func (t *Transaction) SpanID() pcommon.SpanID { return t.spanID }

// Start returns when the transaction started.
func (t *Transaction) Start() time.Time { return t.start }

// Stop ends the transaction with a result. Stopping twice keeps the first
// end time and result.
func (t *Transaction) Stop(at time.Time, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.end.IsZero() {
		return
	}
	t.end = at
	t.result = result
}

// Stopped reports whether Stop was called.
func (t *Transaction) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.end.IsZero()
}

// End returns the end time, zero while the transaction runs.
func (t *Transaction) End() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.end
}

// Result returns the result passed to Stop.
func (t *Transaction) Result() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Duration returns the elapsed time of a stopped transaction, zero otherwise.
func (t *Transaction) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.end.IsZero() {
		return 0
	}
	return t.end.Sub(t.start)
}

// SetLabel attaches a label to the transaction.
func (t *Transaction) SetLabel(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.labels == nil {
		t.labels = make(map[string]string)
	}
	t.labels[key] = value
}

// Labels returns a copy of the transaction labels.
func (t *Transaction) Labels() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.labels)
}

// Spans returns the spans recorded so far.
func (t *Transaction) Spans() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// Errors returns the errors captured within the transaction.
func (t *Transaction) Errors() []*Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Error, len(t.errors))
	copy(out, t.errors)
	return out
}

func (t *Transaction) addSpan(s *Span) {
	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
}

func (t *Transaction) addError(e *Error) {
	t.mu.Lock()
	t.errors = append(t.errors, e)
	t.mu.Unlock()
}

// Span is a timed operation inside a transaction.
type Span struct {
	name     string
	kind     string
	spanID   pcommon.SpanID
	parentID pcommon.SpanID
	start    time.Time

	mu  sync.Mutex
	end time.Time
}

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// Kind returns the span type, such as "db" or "external".
func (s *Span) Kind() string { return s.kind }

// SpanID returns the span id.
func (s *Span) SpanID() pcommon.SpanID { return s.spanID }

// ParentID returns the id of the enclosing transaction's root span.
func (s *Span) ParentID() pcommon.SpanID { return s.parentID }

// Start returns when the span started.
func (s *Span) Start() time.Time { return s.start }

// Finish ends the span. Only the first call has an effect.
func (s *Span) Finish(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		s.end = at
	}
}

// End returns the end time, zero while the span runs.
func (s *Span) End() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// Error is a captured failure, optionally tied to a transaction.
type Error struct {
	Message    string
	Type       string
	Timestamp  time.Time
	Stacktrace []string

	TraceID pcommon.TraceID
	SpanID  pcommon.SpanID

	// ParentID is empty for errors captured outside a transaction
	ParentID pcommon.SpanID
}
