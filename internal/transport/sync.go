package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/olumi/olumi-go/internal/envelope"
	"github.com/olumi/olumi-go/internal/logging"
	"github.com/olumi/olumi-go/pkg/schema"
)

// Doer abstracts *http.Client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Transport.
type Config struct {
	// BaseURL is the engine root, e.g. "https://engine.olumi.dev".
	BaseURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient Doer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Timeout is the per-attempt deadline. Defaults to 30s.
	Timeout time.Duration
	// MaxRequestBytes fails oversized payloads before they hit the wire.
	// Defaults to 1 MiB.
	MaxRequestBytes int64
	// MaxResponseBytes bounds response reads. Defaults to 10 MiB.
	MaxResponseBytes int64
	// Retry tunes the retry engine for the sync path.
	Retry RetryConfig
	// HeartbeatTimeout is the stream liveness window. Defaults to 20s.
	HeartbeatTimeout time.Duration
	// ProgressInterval throttles progress callbacks. Defaults to 100ms.
	ProgressInterval time.Duration
	// SDKVersion is advertised in the x-olumi-sdk header.
	SDKVersion string
	// Breaker is shared across transports pointing at the same backends.
	// Nil creates a private registry.
	Breaker *BreakerRegistry
}

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxRequestBytes  = 1 << 20
	defaultMaxResponseBytes = 10 << 20
	defaultHeartbeat        = 20 * time.Second
	defaultProgressInterval = 100 * time.Millisecond
)

// Transport submits runs to a single engine backend.
type Transport struct {
	cfg        Config
	normalizer *envelope.Normalizer
}

// New creates a Transport, filling unset Config fields with defaults.
func New(cfg Config) *Transport {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeat
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	if cfg.SDKVersion == "" {
		cfg.SDKVersion = "olumi-go/dev"
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreakerRegistry(DefaultBreakerConfig())
	}
	return &Transport{cfg: cfg, normalizer: envelope.NewNormalizer()}
}

// BaseURL returns the configured engine root.
func (t *Transport) BaseURL() string { return t.cfg.BaseURL }

// RunSync submits the request and blocks for the result. Failures are
// always *schema.CanonicalError. The idempotency key travels only in the
// Idempotency-Key header; retried attempts reuse it so the engine can
// dedup, while each attempt carries a fresh X-Request-Id.
func (t *Transport) RunSync(ctx context.Context, req *schema.RunRequest, opts schema.RunOptions) (*schema.SyncRunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeBadInput, "failed to encode run request").WithCause(err)
	}
	if int64(len(body)) > t.cfg.MaxRequestBytes {
		return nil, schema.NewErrorf(schema.ErrCodeLimitExceeded,
			"request payload is %d bytes, engine accepts at most %d", len(body), t.cfg.MaxRequestBytes).
			WithField("payload").WithMax(int(t.cfg.MaxRequestBytes))
	}

	if err := t.cfg.Breaker.AllowRequest(t.cfg.BaseURL); err != nil {
		return nil, AsCanonical(err)
	}

	resp, err := WithRetry(ctx, t.cfg.Retry, func(ctx context.Context, attempt int) (*schema.SyncRunResponse, error) {
		return t.runSyncOnce(ctx, req, body, opts, attempt)
	})
	if err != nil {
		cerr := AsCanonical(err)
		if implicatesBackend(cerr) {
			t.cfg.Breaker.RecordFailure(t.cfg.BaseURL)
		}
		return nil, cerr
	}

	t.cfg.Breaker.RecordSuccess(t.cfg.BaseURL)
	return resp, nil
}

func (t *Transport) runSyncOnce(ctx context.Context, req *schema.RunRequest, body []byte, opts schema.RunOptions, attempt int) (*schema.SyncRunResponse, error) {
	timeout := t.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestID := opts.RequestID
	if requestID == "" || attempt > 0 {
		requestID = uuid.NewString()
	}
	ctx = logging.WithRequestID(logging.WithAttempt(ctx, attempt), requestID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/v1/run", bytes.NewReader(body))
	if err != nil {
		return nil, MapTransportError(err)
	}
	t.setCommonHeaders(httpReq, req.Key(), requestID)

	t.cfg.Logger.DebugContext(ctx, "submitting sync run",
		slog.Int("payload_bytes", len(body)),
		slog.String("detail_level", string(req.DetailLevel)))

	httpResp, err := t.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, MapTransportError(err).WithRequestID(requestID)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, t.cfg.MaxResponseBytes))
	if err != nil {
		return nil, MapTransportError(err).WithRequestID(requestID)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		cerr := MapHTTPFailure(httpResp.StatusCode, httpResp.Header, respBody).WithRequestID(requestID)
		t.cfg.Logger.WarnContext(ctx, "sync run failed",
			slog.Int("status", httpResp.StatusCode),
			slog.String("code", cerr.Code))
		return nil, cerr
	}

	var doc map[string]any
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeServerError, "engine returned a malformed result envelope").
			WithCause(err).WithRequestID(requestID)
	}

	out, err := t.normalizer.Normalize(ctx, doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeServerError, "failed to normalize result envelope").
			WithCause(err).WithRequestID(requestID)
	}
	out.RequestID = requestID
	out.Debug = debugHeaders(httpResp.Header)

	t.cfg.Logger.InfoContext(logging.WithRunID(ctx, out.RunID), "sync run complete")
	return out, nil
}

// CancelRun asks the engine to stop a run. Cancelling a finished or
// unknown run is not an error; 404 counts as success.
func (t *Transport) CancelRun(ctx context.Context, runID string) error {
	if runID == "" {
		return schema.NewError(schema.ErrCodeBadInput, "run id is required")
	}

	requestID := uuid.NewString()
	ctx = logging.WithRunID(logging.WithRequestID(ctx, requestID), runID)

	url := fmt.Sprintf("%s/v1/run/%s/cancel", t.cfg.BaseURL, runID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return MapTransportError(err)
	}
	t.setCommonHeaders(httpReq, "", requestID)

	httpResp, err := t.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return MapTransportError(err).WithRequestID(requestID)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, t.cfg.MaxResponseBytes))
	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		t.cfg.Logger.InfoContext(ctx, "run cancelled")
		return nil
	case httpResp.StatusCode == http.StatusNotFound:
		// Already finished or never existed; cancel is idempotent.
		t.cfg.Logger.DebugContext(ctx, "cancel target not found; treating as done")
		return nil
	default:
		return MapHTTPFailure(httpResp.StatusCode, httpResp.Header, respBody).WithRequestID(requestID)
	}
}

func (t *Transport) setCommonHeaders(r *http.Request, idempotencyKey, requestID string) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Request-Id", requestID)
	r.Header.Set("x-olumi-sdk", t.cfg.SDKVersion)
	if idempotencyKey != "" {
		r.Header.Set("Idempotency-Key", idempotencyKey)
	}
}

// debugHeaders collects X-Olumi-Debug-* response headers.
func debugHeaders(h http.Header) map[string]string {
	var out map[string]string
	for name, values := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "X-Olumi-Debug-") && len(values) > 0 {
			if out == nil {
				out = make(map[string]string)
			}
			out[name] = values[0]
		}
	}
	return out
}
