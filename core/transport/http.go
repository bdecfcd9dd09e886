package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"go.uber.org/zap"
)

// Intake paths relative to the server URL.
const (
	TracesPath  = "/v1/traces"
	MetricsPath = "/v1/metrics"

	contentTypeProtobuf = "application/x-protobuf"
	userAgent           = "apm-agent-core"
)

// HTTPSettings configures an HTTPConnector. Nil collaborators are replaced
// with defaults.
type HTTPSettings struct {
	// ServerURL is the intake base URL; trailing slashes are ignored
	ServerURL string

	// SecretToken is sent as a bearer token when not empty
	SecretToken string

	Client   HTTPClient
	Requests RequestFactory
	Streams  StreamFactory

	// Timeout bounds the default client; ignored when Client is set
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Zero
	// selects DefaultMaxRetries; a negative value disables retries.
	MaxRetries int

	// RetryInterval is the first backoff interval
	RetryInterval time.Duration

	Logger *zap.Logger
}

// DefaultMaxRetries is used when HTTPSettings.MaxRetries is zero.
const DefaultMaxRetries = 3

// NoRetries disables retrying in HTTPSettings.MaxRetries.
const NoRetries = -1

// HTTPConnector posts OTLP protobuf payloads to an APM intake.
type HTTPConnector struct {
	serverURL   string
	secretToken string
	client      HTTPClient
	requests    RequestFactory
	streams     StreamFactory
	maxRetries  uint64
	retryEvery  time.Duration
	logger      *zap.Logger
}

// NewHTTPConnector creates a connector from settings.
func NewHTTPConnector(s HTTPSettings) (*HTTPConnector, error) {
	serverURL := strings.TrimRight(s.ServerURL, "/")
	if serverURL == "" {
		return nil, ErrMissingServerURL
	}

	c := &HTTPConnector{
		serverURL:   serverURL,
		secretToken: s.SecretToken,
		client:      s.Client,
		requests:    s.Requests,
		streams:     s.Streams,
		maxRetries:  retries(s.MaxRetries),
		retryEvery:  s.RetryInterval,
		logger:      s.Logger,
	}

	if c.client == nil {
		c.client = &http.Client{Timeout: s.Timeout}
	}
	if c.requests == nil {
		c.requests = DefaultRequestFactory
	}
	if c.streams == nil {
		c.streams = NewGzipStreamFactory()
	}
	if c.retryEvery <= 0 {
		c.retryEvery = 500 * time.Millisecond
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	return c, nil
}

func retries(n int) uint64 {
	switch {
	case n < 0:
		return 0
	case n == 0:
		return DefaultMaxRetries
	default:
		return uint64(n)
	}
}

// ServerURL returns the base URL without trailing slash.
func (c *HTTPConnector) ServerURL() string { return c.serverURL }

// SecretToken returns the bearer token, empty when unset.
func (c *HTTPConnector) SecretToken() string { return c.secretToken }

// Client returns the HTTP client in use.
func (c *HTTPConnector) Client() HTTPClient { return c.client }

// Requests returns the request factory in use.
func (c *HTTPConnector) Requests() RequestFactory { return c.requests }

// Streams returns the stream factory in use.
func (c *HTTPConnector) Streams() StreamFactory { return c.streams }

// Send posts traces and metrics, each to its own endpoint. Traces are sent
// first; a trace failure skips the metrics request. Failures are returned
// as *SendError.
func (c *HTTPConnector) Send(ctx context.Context, p Payload) error {
	if p.HasTraces() {
		body, err := ptraceotlp.NewExportRequestFromTraces(p.Traces).MarshalProto()
		if err != nil {
			return &SendError{Signal: SignalTraces, Err: fmt.Errorf("failed to marshal traces: %w", err)}
		}
		if err := c.post(ctx, TracesPath, body); err != nil {
			return &SendError{Signal: SignalTraces, Err: err}
		}
		c.logger.Debug("Sent traces", zap.Int("span_count", p.Traces.SpanCount()))
	}

	if p.HasMetrics() {
		body, err := pmetricotlp.NewExportRequestFromMetrics(p.Metrics).MarshalProto()
		if err != nil {
			return &SendError{Signal: SignalMetrics, TracesDelivered: p.HasTraces(), Err: fmt.Errorf("failed to marshal metrics: %w", err)}
		}
		if err := c.post(ctx, MetricsPath, body); err != nil {
			return &SendError{Signal: SignalMetrics, TracesDelivered: p.HasTraces(), Err: err}
		}
		c.logger.Debug("Sent metrics", zap.Int("data_point_count", p.Metrics.DataPointCount()))
	}

	return nil
}

func (c *HTTPConnector) post(ctx context.Context, path string, raw []byte) error {
	body, err := c.encode(raw)
	if err != nil {
		return err
	}

	endpoint := c.serverURL + path
	attempt := 0

	op := func() error {
		attempt++
		err := c.do(ctx, endpoint, body)
		if err == nil {
			return nil
		}

		var status *StatusError
		if errors.As(err, &status) && !status.Retryable() {
			return backoff.Permanent(err)
		}

		c.logger.Debug("Intake request failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryEvery

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)); err != nil {
		return fmt.Errorf("failed to send to %s after %d attempts: %w", endpoint, attempt, err)
	}
	return nil
}

func (c *HTTPConnector) encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.streams.NewStream(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open body stream: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close body stream: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *HTTPConnector) do(ctx context.Context, endpoint string, body []byte) error {
	req, err := c.requests.NewRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	req.Header.Set("Content-Type", contentTypeProtobuf)
	req.Header.Set("User-Agent", userAgent)
	if enc := c.streams.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}
	if c.secretToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.secretToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}
