// Package probe answers "can this backend take runs right now" with a
// cached capability probe. Results live for schema.ProbeTTL in both a
// per-process map and the durable cache, so a fresh process can answer
// without network if a recent probe exists.
package probe

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

const probeTimeout = 5 * time.Second

// Config configures a Prober.
type Config struct {
	HTTPClient transport.Doer
	Logger     *slog.Logger
	// Cache is the durable store. Nil means in-memory only.
	Cache cache.Cache
	// StreamSupported gates the stream endpoint flag. The stream route is
	// never probed directly; availability is a capability of the pinned
	// engine version.
	StreamSupported bool
}

// Prober probes engine capability per base URL.
type Prober struct {
	cfg Config

	mu      sync.Mutex
	results map[string]*schema.ProbeResult
	now     func() time.Time
}

// New creates a Prober.
func New(cfg Config) *Prober {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryCache()
	}
	return &Prober{
		cfg:     cfg,
		results: make(map[string]*schema.ProbeResult),
		now:     time.Now,
	}
}

// Probe returns the capability of the backend at baseURL, reusing any
// unexpired cached result. Every outcome, including "down", is cached —
// repeatedly re-probing a dead backend would defeat the point.
func (p *Prober) Probe(ctx context.Context, baseURL string) *schema.ProbeResult {
	baseURL = strings.TrimRight(baseURL, "/")

	if r := p.cached(ctx, baseURL); r != nil {
		return r
	}

	result := p.probeNetwork(ctx, baseURL)
	p.store(ctx, baseURL, result)
	return result
}

// Invalidate drops cached results for baseURL, forcing the next Probe to
// hit the network.
func (p *Prober) Invalidate(ctx context.Context, baseURL string) {
	baseURL = strings.TrimRight(baseURL, "/")
	p.mu.Lock()
	delete(p.results, baseURL)
	p.mu.Unlock()
	if err := p.cfg.Cache.Delete(ctx, cacheKeyFor(baseURL)); err != nil {
		p.cfg.Logger.WarnContext(ctx, "failed to drop cached probe", slog.String("error", err.Error()))
	}
}

// cached checks the in-process map first, then the durable cache.
// Expired or unparseable entries are purged on read, not just skipped.
func (p *Prober) cached(ctx context.Context, baseURL string) *schema.ProbeResult {
	p.mu.Lock()
	r, ok := p.results[baseURL]
	if ok && r.Expired(p.now()) {
		delete(p.results, baseURL)
		ok = false
	}
	p.mu.Unlock()
	if ok {
		return r
	}

	payload, found := p.cfg.Cache.Get(ctx, cacheKeyFor(baseURL))
	if !found {
		return nil
	}
	var durable schema.ProbeResult
	if err := json.Unmarshal(payload, &durable); err != nil || durable.Expired(p.now()) {
		if derr := p.cfg.Cache.Delete(ctx, cacheKeyFor(baseURL)); derr != nil {
			p.cfg.Logger.WarnContext(ctx, "failed to drop stale probe entry", slog.String("error", derr.Error()))
		}
		return nil
	}
	p.mu.Lock()
	p.results[baseURL] = &durable
	p.mu.Unlock()
	return &durable
}

// probeNetwork performs the actual probe: GET /v1/health, with the legacy
// /health route as a degraded fallback. A healthy backend is trusted to
// serve runs — the run route itself is deliberately not probed because
// gateways that reject bodiless requests produced false negatives.
func (p *Prober) probeNetwork(ctx context.Context, baseURL string) *schema.ProbeResult {
	result := &schema.ProbeResult{Timestamp: p.now()}

	switch {
	case p.healthOK(ctx, baseURL+"/v1/health"):
		result.HealthStatus = schema.HealthOK
	case p.healthOK(ctx, baseURL+"/health"):
		result.HealthStatus = schema.HealthDegraded
	default:
		result.HealthStatus = schema.HealthDown
		p.cfg.Logger.WarnContext(ctx, "backend unreachable", slog.String("base_url", baseURL))
		return result
	}

	result.Available = true
	result.Endpoints = schema.ProbeEndpoints{
		Health: true,
		Run:    true,
		Stream: p.cfg.StreamSupported,
	}
	p.cfg.Logger.InfoContext(ctx, "backend probed",
		slog.String("base_url", baseURL),
		slog.String("health", string(result.HealthStatus)))
	return result
}

func (p *Prober) healthOK(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *Prober) store(ctx context.Context, baseURL string, result *schema.ProbeResult) {
	p.mu.Lock()
	p.results[baseURL] = result
	p.mu.Unlock()

	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.cfg.Cache.Put(ctx, cacheKeyFor(baseURL), payload, schema.ProbeTTL); err != nil {
		p.cfg.Logger.WarnContext(ctx, "failed to persist probe result", slog.String("error", err.Error()))
	}
}

func cacheKeyFor(baseURL string) string {
	return "probe:" + baseURL
}
