package integration

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/deepaksharma/apm-agent-core/core/transport"
)

// FakeIntake is an HTTP server that accepts OTLP protobuf exports the way
// an APM intake would and keeps what it decoded.
type FakeIntake struct {
	server *httptest.Server
	logger *zap.Logger
	status *atomic.Int64
	hits   *atomic.Int64

	mu          sync.Mutex
	traces      []ptrace.Traces
	metrics     []pmetric.Metrics
	authHeaders []string
}

// NewFakeIntake starts an intake answering 200.
func NewFakeIntake(logger *zap.Logger) *FakeIntake {
	in := &FakeIntake{
		logger: logger,
		status: atomic.NewInt64(http.StatusOK),
		hits:   atomic.NewInt64(0),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(transport.TracesPath, in.handleTraces)
	mux.HandleFunc(transport.MetricsPath, in.handleMetrics)
	in.server = httptest.NewServer(mux)
	return in
}

// URL returns the server URL.
func (in *FakeIntake) URL() string { return in.server.URL }

// Close stops the server.
func (in *FakeIntake) Close() { in.server.Close() }

// SetStatus changes the status returned for every later request. Payloads
// are only recorded while it is 2xx.
func (in *FakeIntake) SetStatus(code int) { in.status.Store(int64(code)) }

// Hits returns the number of requests received.
func (in *FakeIntake) Hits() int64 { return in.hits.Load() }

// Traces returns the accepted trace exports.
func (in *FakeIntake) Traces() []ptrace.Traces {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]ptrace.Traces(nil), in.traces...)
}

// Metrics returns the accepted metric exports.
func (in *FakeIntake) Metrics() []pmetric.Metrics {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]pmetric.Metrics(nil), in.metrics...)
}

// AuthHeaders returns the Authorization header of every accepted request.
func (in *FakeIntake) AuthHeaders() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.authHeaders...)
}

// Reset forgets everything received so far.
func (in *FakeIntake) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.traces = nil
	in.metrics = nil
	in.authHeaders = nil
	in.hits.Store(0)
}

func (in *FakeIntake) handleTraces(w http.ResponseWriter, r *http.Request) {
	raw, ok := in.accept(w, r)
	if !ok {
		return
	}
	req := ptraceotlp.NewExportRequest()
	if err := req.UnmarshalProto(raw); err != nil {
		in.logger.Error("Bad trace export", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	in.mu.Lock()
	in.traces = append(in.traces, req.Traces())
	in.authHeaders = append(in.authHeaders, r.Header.Get("Authorization"))
	in.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (in *FakeIntake) handleMetrics(w http.ResponseWriter, r *http.Request) {
	raw, ok := in.accept(w, r)
	if !ok {
		return
	}
	req := pmetricotlp.NewExportRequest()
	if err := req.UnmarshalProto(raw); err != nil {
		in.logger.Error("Bad metric export", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	in.mu.Lock()
	in.metrics = append(in.metrics, req.Metrics())
	in.authHeaders = append(in.authHeaders, r.Header.Get("Authorization"))
	in.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// accept answers non-2xx statuses itself and otherwise returns the
// decompressed body.
func (in *FakeIntake) accept(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	in.hits.Inc()

	if code := int(in.status.Load()); code < 200 || code > 299 {
		w.WriteHeader(code)
		return nil, false
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return nil, false
		}
		defer gz.Close()
		body = gz
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return raw, true
}
