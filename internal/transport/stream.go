package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/olumi/olumi-go/internal/logging"
	"github.com/olumi/olumi-go/pkg/schema"
)

// StreamHandlers receive stream lifecycle callbacks. Nil handlers are
// skipped. Exactly one terminal callback fires per stream (OnComplete or
// OnError) — unless the caller cancelled, in which case none fires.
type StreamHandlers struct {
	OnStarted  func(schema.StartedEvent)
	OnProgress func(schema.ProgressEvent)
	OnInterim  func(schema.InterimEvent)
	OnComplete func(schema.CompleteEvent)
	OnError    func(*schema.CanonicalError)
}

// progressCap holds displayed progress below 100 until the final result
// actually arrives; completion then emits a synthetic 100.
const progressCap = 90

// RunStream submits the request over the streaming endpoint and invokes
// handlers as events arrive. Setup failures (encoding, size guard, open
// circuit) are returned synchronously; everything after that is reported
// through the handlers. The returned cancel function is idempotent, safe
// to call from inside a handler, and suppresses all further callbacks.
//
// Streams are never retried: a run may have started server-side, so a
// blind resubmit could double-execute. Callers retry by calling again
// with the same idempotency key.
func (t *Transport) RunStream(ctx context.Context, req *schema.RunRequest, opts schema.RunOptions, handlers StreamHandlers) (func(), error) {
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

	streamCtx, cancelCtx := context.WithCancel(ctx)
	s := &stream{
		transport:   t,
		handlers:    handlers,
		cancelCtx:   cancelCtx,
		progressGap: t.cfg.ProgressInterval,
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	streamCtx = logging.WithRequestID(streamCtx, requestID)

	go s.run(streamCtx, req, body, requestID)

	return s.cancel, nil
}

// stream is the per-call state machine. Caller cancellation uses an
// atomic flag rather than the mutex so a handler invoking cancel() from
// inside a callback cannot deadlock.
type stream struct {
	transport *Transport
	handlers  StreamHandlers
	cancelCtx context.CancelFunc

	cancelled atomic.Bool

	mu       sync.Mutex
	terminal bool
	runID    string

	liveness *time.Timer

	progressGap  time.Duration
	lastProgress time.Time
	pending      *schema.ProgressEvent
	flushTimer   *time.Timer
}

// cancel stops the stream silently: no further handler fires, and the
// engine is asked (best-effort) to stop the run.
func (s *stream) cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.cancelCtx()

	s.mu.Lock()
	s.terminal = true
	runID := s.runID
	s.stopTimersLocked()
	s.mu.Unlock()

	if runID != "" {
		go func() {
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := s.transport.CancelRun(ctx, runID); err != nil {
				s.transport.cfg.Logger.Debug("best-effort cancel failed", slog.String("run_id", runID))
			}
		}()
	}
}

func (s *stream) run(ctx context.Context, req *schema.RunRequest, body []byte, requestID string) {
	t := s.transport
	defer s.cancelCtx()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/v1/stream", bytes.NewReader(body))
	if err != nil {
		s.fail(MapTransportError(err))
		return
	}
	t.setCommonHeaders(httpReq, req.Key(), requestID)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := t.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		s.fail(MapTransportError(err).WithRequestID(requestID))
		return
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, t.cfg.MaxResponseBytes))
		s.fail(MapHTTPFailure(httpResp.StatusCode, httpResp.Header, respBody).WithRequestID(requestID))
		return
	}

	s.armLiveness()

	var parser sseParser
	buf := make([]byte, 4096)
	for {
		n, readErr := httpResp.Body.Read(buf)
		if n > 0 {
			for _, rec := range parser.Feed(buf[:n]) {
				s.dispatch(ctx, rec, requestID)
			}
		}
		if readErr != nil {
			if s.isDone() {
				return
			}
			// The engine must close with complete, error or cancelled; a
			// bare EOF means the connection died mid-run.
			s.fail(schema.NewError(schema.ErrCodeNetworkError, "stream ended unexpectedly").
				WithCause(readErr).WithRequestID(requestID))
			return
		}
		if s.isDone() {
			return
		}
	}
}

func (s *stream) dispatch(ctx context.Context, rec sseRecord, requestID string) {
	if s.isDone() {
		return
	}
	// Any event, heartbeats and unknown names included, proves liveness.
	s.armLiveness()

	t := s.transport
	switch rec.Kind {
	case schema.EventStarted:
		var ev schema.StartedEvent
		if err := json.Unmarshal([]byte(rec.Data), &ev); err != nil {
			t.cfg.Logger.WarnContext(ctx, "malformed started event, skipping")
			return
		}
		s.mu.Lock()
		s.runID = ev.RunID
		s.mu.Unlock()
		if s.handlers.OnStarted != nil {
			s.handlers.OnStarted(ev)
		}

	case schema.EventProgress:
		var ev schema.ProgressEvent
		if err := json.Unmarshal([]byte(rec.Data), &ev); err != nil {
			t.cfg.Logger.WarnContext(ctx, "malformed progress event, skipping")
			return
		}
		if ev.Percent > progressCap {
			ev.Percent = progressCap
		}
		s.throttleProgress(ev)

	case schema.EventInterim:
		var ev schema.InterimEvent
		if err := json.Unmarshal([]byte(rec.Data), &ev); err != nil {
			t.cfg.Logger.WarnContext(ctx, "malformed interim event, skipping")
			return
		}
		if s.handlers.OnInterim != nil {
			s.handlers.OnInterim(ev)
		}

	case schema.EventHeartbeat:
		// Liveness already reset above; nothing else to do.

	case schema.EventComplete:
		var ev schema.CompleteEvent
		if err := json.Unmarshal([]byte(rec.Data), &ev); err != nil {
			s.fail(schema.NewError(schema.ErrCodeServerError, "malformed complete event").
				WithCause(err).WithRequestID(requestID))
			return
		}
		if !s.claimTerminal() {
			return
		}
		t.cfg.Breaker.RecordSuccess(t.cfg.BaseURL)
		if s.handlers.OnProgress != nil {
			// Synthetic final tick so displays land on 100 exactly once.
			s.handlers.OnProgress(schema.ProgressEvent{Percent: 100})
		}
		if s.handlers.OnComplete != nil {
			s.handlers.OnComplete(ev)
		}
		t.cfg.Logger.InfoContext(logging.WithRunID(ctx, ev.RunID), "stream run complete")

	case schema.EventError:
		var eb schema.ErrorBody
		_ = json.Unmarshal([]byte(rec.Data), &eb)
		code := eb.Code
		if !knownCode(code) {
			code = schema.ErrCodeServerError
		}
		cerr := schema.NewErrorf(code, "%s", bodyReason(eb, "engine reported a run failure")).WithRequestID(requestID)
		if eb.Fields != nil {
			cerr = cerr.WithField(eb.Fields.Field).WithMax(eb.Fields.Max)
		}
		if eb.RetryAfter > 0 {
			cerr = cerr.WithRetryAfter(int(eb.RetryAfter))
		}
		s.fail(cerr)

	case schema.EventCancelled:
		s.fail(schema.NewError(schema.ErrCodeCancelled, "run cancelled by engine").WithRequestID(requestID))

	default:
		t.cfg.Logger.DebugContext(ctx, "skipping unknown stream event", slog.String("event", rec.Name))
	}
}

// throttleProgress coalesces bursts: at most one callback per interval,
// always ending on the freshest value.
func (s *stream) throttleProgress(ev schema.ProgressEvent) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(s.lastProgress) >= s.progressGap {
		s.lastProgress = now
		s.pending = nil
		s.mu.Unlock()
		s.emitProgress(ev)
		return
	}

	s.pending = &ev
	if s.flushTimer == nil {
		wait := s.progressGap - now.Sub(s.lastProgress)
		s.flushTimer = time.AfterFunc(wait, s.flushPending)
	}
	s.mu.Unlock()
}

func (s *stream) flushPending() {
	s.mu.Lock()
	s.flushTimer = nil
	ev := s.pending
	s.pending = nil
	if ev == nil || s.terminal {
		s.mu.Unlock()
		return
	}
	s.lastProgress = time.Now()
	s.mu.Unlock()

	s.emitProgress(*ev)
}

// emitProgress invokes OnProgress. The isDone check sits immediately
// before the call, not just at the throttle decision, so a cancel racing
// the delivery still suppresses it.
func (s *stream) emitProgress(ev schema.ProgressEvent) {
	if s.handlers.OnProgress == nil || s.isDone() {
		return
	}
	s.handlers.OnProgress(ev)
}

// armLiveness (re)starts the heartbeat watchdog.
func (s *stream) armLiveness() {
	timeout := s.transport.cfg.HeartbeatTimeout
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	if s.liveness == nil {
		s.liveness = time.AfterFunc(timeout, s.livenessExpired)
		return
	}
	s.liveness.Reset(timeout)
}

func (s *stream) livenessExpired() {
	s.fail(schema.NewErrorf(schema.ErrCodeTimeout,
		"no stream events within %s, engine presumed gone", s.transport.cfg.HeartbeatTimeout))
	s.cancelCtx()
}

// fail reports the terminal error unless the stream already ended or the
// caller cancelled.
func (s *stream) fail(cerr *schema.CanonicalError) {
	if s.cancelled.Load() {
		return
	}
	if !s.claimTerminal() {
		return
	}
	if implicatesBackend(cerr) {
		s.transport.cfg.Breaker.RecordFailure(s.transport.cfg.BaseURL)
	}
	if s.handlers.OnError != nil {
		s.handlers.OnError(cerr)
	}
}

// claimTerminal atomically marks the stream finished. Only the first
// caller wins, which is what guarantees a single terminal callback.
func (s *stream) claimTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return false
	}
	s.terminal = true
	s.stopTimersLocked()
	return true
}

func (s *stream) stopTimersLocked() {
	if s.liveness != nil {
		s.liveness.Stop()
	}
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.pending = nil
}

func (s *stream) isDone() bool {
	if s.cancelled.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// knownCode reports membership in the closed canonical code set.
func knownCode(code string) bool {
	switch code {
	case schema.ErrCodeBadInput, schema.ErrCodeRateLimited, schema.ErrCodeLimitExceeded,
		schema.ErrCodeServerError, schema.ErrCodeTimeout, schema.ErrCodeGatewayTimeout,
		schema.ErrCodeNetworkError, schema.ErrCodeCancelled:
		return true
	default:
		return false
	}
}
