// Package transport delivers agent payloads to an APM intake.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/ptrace"
)

var (
	// ErrUnexpectedStatus is matched by errors for non-2xx intake responses.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrMissingServerURL is returned when a connector has no base URL.
	ErrMissingServerURL = errors.New("server url must not be empty")
)

// StatusError carries the status code of a rejected request.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s from %s: %d %s", ErrUnexpectedStatus, e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is matches ErrUnexpectedStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Retryable reports whether sending again may succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Signal names used in SendError.
const (
	SignalTraces  = "traces"
	SignalMetrics = "metrics"
)

// SendError reports which signal of a payload could not be delivered.
// Signals are sent traces first, so a metrics failure may follow delivered
// traces.
type SendError struct {
	Signal          string
	TracesDelivered bool
	Err             error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send %s: %v", e.Signal, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// TracesDelivered reports whether the payload whose Send returned err still
// got its traces through. A nil err means everything was delivered.
func TracesDelivered(err error) bool {
	if err == nil {
		return true
	}
	var se *SendError
	return errors.As(err, &se) && se.TracesDelivered
}

// Payload is one delivery: trace data, metric data, or both.
type Payload struct {
	Traces  ptrace.Traces
	Metrics pmetric.Metrics
}

// NewPayload returns a payload with empty trace and metric data.
func NewPayload() Payload {
	return Payload{
		Traces:  ptrace.NewTraces(),
		Metrics: pmetric.NewMetrics(),
	}
}

// HasTraces reports whether the payload carries at least one span.
func (p Payload) HasTraces() bool {
	return p.Traces != (ptrace.Traces{}) && p.Traces.SpanCount() > 0
}

// HasMetrics reports whether the payload carries at least one data point.
func (p Payload) HasMetrics() bool {
	return p.Metrics != (pmetric.Metrics{}) && p.Metrics.DataPointCount() > 0
}

// IsEmpty reports whether there is nothing to send.
func (p Payload) IsEmpty() bool {
	return !p.HasTraces() && !p.HasMetrics()
}

// Connector delivers payloads.
type Connector interface {
	Send(ctx context.Context, p Payload) error
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, p Payload) error

// Send calls f.
func (f ConnectorFunc) Send(ctx context.Context, p Payload) error {
	return f(ctx, p)
}

// HTTPClient executes requests. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClientFunc adapts a function to HTTPClient.
type HTTPClientFunc func(req *http.Request) (*http.Response, error)

// Do calls f.
func (f HTTPClientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// RequestFactory builds outgoing requests.
type RequestFactory interface {
	NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error)
}

// RequestFactoryFunc adapts a function to RequestFactory.
type RequestFactoryFunc func(ctx context.Context, method, url string, body io.Reader) (*http.Request, error)

// NewRequest calls f.
func (f RequestFactoryFunc) NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	return f(ctx, method, url, body)
}

// DefaultRequestFactory builds requests with http.NewRequestWithContext.
var DefaultRequestFactory RequestFactory = RequestFactoryFunc(http.NewRequestWithContext)
