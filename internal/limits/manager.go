// Package limits manages engine capacity limits: static defaults at
// construction, best-effort hydration from the backend, durable caching
// across sessions. Hydration failures never surface to callers — the
// client stays usable on defaults.
package limits

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/olumi/olumi-go/internal/cache"
	"github.com/olumi/olumi-go/internal/transport"
	"github.com/olumi/olumi-go/pkg/schema"
)

const (
	cacheKey = "limits"
	cacheTTL = 24 * time.Hour

	fetchTimeout = 10 * time.Second
)

// Config configures a Manager.
type Config struct {
	BaseURL    string
	HTTPClient transport.Doer
	Logger     *slog.Logger
	// Cache is the durable store. Nil means in-memory only.
	Cache cache.Cache
}

// Manager holds the current limits and hydrates them once per process.
// Concurrent Hydrate calls coalesce into a single fetch; callers after a
// successful hydration trigger a fresh fetch (the server may have changed
// its limits).
type Manager struct {
	cfg Config

	mu       sync.Mutex
	current  schema.Limits
	hydrated bool
	inflight chan struct{}
}

// NewManager creates a Manager seeded with defaults, then with the
// durable cache entry when one is present and valid.
func NewManager(cfg Config) *Manager {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryCache()
	}

	m := &Manager{cfg: cfg, current: schema.DefaultLimits()}
	m.seedFromCache()
	return m
}

// Limits returns a copy of the current limits. Always safe to call; never
// blocks on hydration.
func (m *Manager) Limits() schema.Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Hydrate fetches fresh limits from the engine. Concurrent callers share
// one in-flight fetch; a caller arriving after a completed hydration
// starts a new one. The error return is informational only — current
// limits remain valid regardless.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	if ch := m.inflight; ch != nil {
		m.mu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return transport.MapTransportError(ctx.Err())
		}
	}
	ch := make(chan struct{})
	m.inflight = ch
	m.mu.Unlock()

	err := m.fetch(ctx)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	close(ch)
	return err
}

// Reset drops hydrated state back to defaults and clears the durable
// entry. Used when switching backends.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.current = schema.DefaultLimits()
	m.hydrated = false
	m.mu.Unlock()
	if err := m.cfg.Cache.Delete(ctx, cacheKey); err != nil {
		m.cfg.Logger.WarnContext(ctx, "failed to clear cached limits", slog.String("error", err.Error()))
	}
}

// Hydrated reports whether a fetch has succeeded this process.
func (m *Manager) Hydrated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hydrated
}

func (m *Manager) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/v1/limits", nil)
	if err != nil {
		return m.retain(ctx, transport.MapTransportError(err))
	}

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return m.retain(ctx, transport.MapTransportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return m.retain(ctx, transport.MapTransportError(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return m.retain(ctx, transport.MapHTTPFailure(resp.StatusCode, resp.Header, body))
	}

	var payload schema.LimitsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return m.retain(ctx, schema.NewError(schema.ErrCodeServerError, "malformed limits payload").WithCause(err))
	}

	lim := payload.ToLimits()
	if !lim.Valid() {
		return m.retain(ctx, schema.NewError(schema.ErrCodeServerError, "limits payload contains non-positive values"))
	}

	m.mu.Lock()
	m.current = lim
	m.hydrated = true
	m.mu.Unlock()

	if encoded, err := json.Marshal(lim); err == nil {
		if err := m.cfg.Cache.Put(ctx, cacheKey, encoded, cacheTTL); err != nil {
			m.cfg.Logger.WarnContext(ctx, "failed to persist limits", slog.String("error", err.Error()))
		}
	}

	m.cfg.Logger.InfoContext(ctx, "limits hydrated",
		slog.Int("max_nodes", lim.MaxNodes),
		slog.Int("max_edges", lim.MaxEdges))
	return nil
}

// retain logs the failure and keeps whatever limits are already in place.
func (m *Manager) retain(ctx context.Context, cerr *schema.CanonicalError) error {
	m.cfg.Logger.WarnContext(ctx, "limits hydration failed, retaining current limits",
		slog.String("code", cerr.Code),
		slog.String("error", cerr.Message))
	return cerr
}

// seedFromCache loads a prior session's limits when present and valid.
func (m *Manager) seedFromCache() {
	payload, ok := m.cfg.Cache.Get(context.Background(), cacheKey)
	if !ok {
		return
	}
	var lim schema.Limits
	if err := json.Unmarshal(payload, &lim); err != nil || !lim.Valid() {
		_ = m.cfg.Cache.Delete(context.Background(), cacheKey)
		return
	}
	m.current = lim
}
