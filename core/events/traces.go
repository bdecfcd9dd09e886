package events

import (
	"strings"
	"time"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

// ScopeName is the instrumentation scope events are reported under.
const ScopeName = "github.com/deepaksharma/apm-agent-core"

// Attribute keys written on converted spans.
const (
	AttrTransactionName   = "transaction.name"
	AttrTransactionResult = "transaction.result"
	AttrSpanType          = "span.type"
	AttrExceptionType     = "exception.type"
	AttrExceptionMessage  = "exception.message"
	AttrExceptionStack    = "exception.stacktrace"

	exceptionEvent = "exception"
)

// Batch accumulates events into one ptrace.Traces under a single resource
// and scope.
type Batch struct {
	traces ptrace.Traces
	spans  ptrace.SpanSlice
}

// NewBatch creates an empty batch. resource, when not nil, is called once to
// populate the batch's resource.
func NewBatch(resource func(pcommon.Resource), scopeVersion string) *Batch {
	traces := ptrace.NewTraces()
	rs := traces.ResourceSpans().AppendEmpty()
	if resource != nil {
		resource(rs.Resource())
	}

	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName(ScopeName)
	ss.Scope().SetVersion(scopeVersion)

	return &Batch{traces: traces, spans: ss.Spans()}
}

// AddTransaction appends the transaction's root span followed by its child
// spans and error spans.
func (b *Batch) AddTransaction(tx *Transaction) {
	root := b.spans.AppendEmpty()
	root.SetTraceID(tx.traceID)
	root.SetSpanID(tx.spanID)
	root.SetName(tx.name)
	root.SetKind(ptrace.SpanKindServer)
	root.SetStartTimestamp(pcommon.NewTimestampFromTime(tx.start))
	root.SetEndTimestamp(pcommon.NewTimestampFromTime(endOrStart(tx.End(), tx.start)))

	attrs := root.Attributes()
	attrs.PutStr(AttrTransactionName, tx.name)
	if result := tx.Result(); result != "" {
		attrs.PutStr(AttrTransactionResult, result)
	}
	for k, v := range tx.Labels() {
		attrs.PutStr("labels."+k, v)
	}

	for _, s := range tx.Spans() {
		span := b.spans.AppendEmpty()
		span.SetTraceID(tx.traceID)
		span.SetSpanID(s.spanID)
		span.SetParentSpanID(s.parentID)
		span.SetName(s.name)
		span.SetKind(ptrace.SpanKindInternal)
		span.SetStartTimestamp(pcommon.NewTimestampFromTime(s.start))
		span.SetEndTimestamp(pcommon.NewTimestampFromTime(endOrStart(s.End(), s.start)))
		if s.kind != "" {
			span.Attributes().PutStr(AttrSpanType, s.kind)
		}
	}

	errs := tx.Errors()
	for _, e := range errs {
		recordException(root.Events().AppendEmpty(), e)
	}
	if len(errs) > 0 {
		root.Status().SetCode(ptrace.StatusCodeError)
		root.Status().SetMessage(errs[len(errs)-1].Message)
	}
}

// AddError appends an error captured outside any transaction as a zero
// duration span carrying the exception event.
func (b *Batch) AddError(e *Error) {
	span := b.spans.AppendEmpty()
	span.SetTraceID(e.TraceID)
	span.SetSpanID(e.SpanID)
	span.SetParentSpanID(e.ParentID)
	span.SetName(e.Type)
	span.SetKind(ptrace.SpanKindInternal)
	ts := pcommon.NewTimestampFromTime(e.Timestamp)
	span.SetStartTimestamp(ts)
	span.SetEndTimestamp(ts)
	span.Status().SetCode(ptrace.StatusCodeError)
	span.Status().SetMessage(e.Message)

	recordException(span.Events().AppendEmpty(), e)
}

// Len returns the number of spans in the batch.
func (b *Batch) Len() int {
	return b.spans.Len()
}

// Traces returns the accumulated trace data.
func (b *Batch) Traces() ptrace.Traces {
	return b.traces
}

func recordException(ev ptrace.SpanEvent, e *Error) {
	ev.SetName(exceptionEvent)
	ev.SetTimestamp(pcommon.NewTimestampFromTime(e.Timestamp))
	attrs := ev.Attributes()
	attrs.PutStr(AttrExceptionType, e.Type)
	attrs.PutStr(AttrExceptionMessage, e.Message)
	if len(e.Stacktrace) > 0 {
		attrs.PutStr(AttrExceptionStack, strings.Join(e.Stacktrace, "\n"))
	}
}

func endOrStart(end, start time.Time) time.Time {
	if end.IsZero() {
		return start
	}
	return end
}
