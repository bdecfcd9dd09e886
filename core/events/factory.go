package events

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.uber.org/atomic"
)

// maxFrames bounds stack capture when no backtrace limit is configured.
const maxFrames = 64

// Factory creates the events recorded by an agent.
type Factory interface {
	NewTransaction(name string) *Transaction
	NewSpan(tx *Transaction, name, kind string) *Span
	NewError(err error, tx *Transaction) *Error
}

// DefaultFactory stamps events with random trace ids and span ids derived
// from the trace id and a per-factory sequence.
type DefaultFactory struct {
	backtraceLimit int
	now            func() time.Time
	seq            *atomic.Uint64
}

// FactoryOption configures a DefaultFactory.
type FactoryOption func(*DefaultFactory)

// WithBacktraceLimit caps the number of captured stack frames. Zero keeps
// the built-in cap.
func WithBacktraceLimit(limit int) FactoryOption {
	return func(f *DefaultFactory) {
		f.backtraceLimit = limit
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *DefaultFactory) {
		f.now = now
	}
}

// NewDefaultFactory creates a DefaultFactory.
func NewDefaultFactory(opts ...FactoryOption) *DefaultFactory {
	f := &DefaultFactory{
		now: time.Now,
		seq: atomic.NewUint64(0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Now returns the factory clock's current time.
func (f *DefaultFactory) Now() time.Time {
	return f.now()
}

// NewTransaction starts a transaction rooted in a new trace.
func (f *DefaultFactory) NewTransaction(name string) *Transaction {
	traceID := pcommon.TraceID(uuid.New())
	return &Transaction{
		name:    name,
		traceID: traceID,
		spanID:  f.nextSpanID(traceID),
		start:   f.now(),
	}
}

// NewSpan starts a span under tx and records it there. With a nil tx the
// span has no parent and is never sent.
func (f *DefaultFactory) NewSpan(tx *Transaction, name, kind string) *Span {
	s := &Span{
		name:  name,
		kind:  kind,
		start: f.now(),
	}
	if tx == nil {
		s.spanID = f.nextSpanID(pcommon.TraceID(uuid.New()))
		return s
	}

	s.spanID = f.nextSpanID(tx.traceID)
	s.parentID = tx.spanID
	tx.addSpan(s)
	return s
}

// NewError captures err with the caller's stack. When tx is not nil the
// error is recorded on it. A nil err captures nothing and returns nil.
func (f *DefaultFactory) NewError(err error, tx *Transaction) *Error {
	if err == nil {
		return nil
	}
	e := &Error{
		Message:    err.Error(),
		Type:       fmt.Sprintf("%T", err),
		Timestamp:  f.now(),
		Stacktrace: f.stacktrace(),
	}
	if tx == nil {
		e.TraceID = pcommon.TraceID(uuid.New())
		e.SpanID = f.nextSpanID(e.TraceID)
		return e
	}

	e.TraceID = tx.traceID
	e.SpanID = f.nextSpanID(tx.traceID)
	e.ParentID = tx.spanID
	tx.addError(e)
	return e
}

func (f *DefaultFactory) nextSpanID(traceID pcommon.TraceID) pcommon.SpanID {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], f.seq.Inc())

	h := xxhash.New()
	_, _ = h.Write(traceID[:])
	_, _ = h.Write(seq[:])

	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}

	var id pcommon.SpanID
	binary.BigEndian.PutUint64(id[:], sum)
	return id
}

func (f *DefaultFactory) stacktrace() []string {
	limit := maxFrames
	if f.backtraceLimit > 0 && f.backtraceLimit < limit {
		limit = f.backtraceLimit
	}

	pcs := make([]uintptr, limit)
	// skip runtime.Callers, stacktrace and NewError
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		out = append(out, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return out
}
