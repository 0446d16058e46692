// Package client is the public facade: one Client bundling graph
// validation, the sync and streaming run transports, capability probing
// and limits management against a single engine backend.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/olumi/olumi-go/internal/cache"
	"github.com/olumi/olumi-go/internal/graph"
	"github.com/olumi/olumi-go/internal/limits"
	"github.com/olumi/olumi-go/internal/logging"
	"github.com/olumi/olumi-go/internal/maintenance"
	"github.com/olumi/olumi-go/internal/probe"
	"github.com/olumi/olumi-go/internal/transport"
	"github.com/olumi/olumi-go/pkg/schema"
)

// Version is the SDK version advertised in the x-olumi-sdk header.
const Version = "0.3.0"

// Config configures a Client.
type Config struct {
	// BaseURL is the engine root. Required.
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient transport.Doer
	// Logger defaults to slog.Default() wrapped with correlation IDs.
	Logger *slog.Logger
	// Timeout is the per-attempt deadline for sync runs.
	Timeout time.Duration
	// Retry tunes the sync retry policy.
	Retry transport.RetryConfig
	// CachePath is the durable cache location. Empty means
	// ~/.olumi/cache.db; "off" disables durability (memory only).
	CachePath string
	// StreamSupported gates the streaming endpoint capability flag.
	StreamSupported bool
	// Maintenance enables the background limits-refresh/cache-sweep loop.
	Maintenance bool
}

// Client is safe for concurrent use.
type Client struct {
	cfg         Config
	logger      *slog.Logger
	store       cache.Cache
	transport   *transport.Transport
	limits      *limits.Manager
	prober      *probe.Prober
	maintenance *maintenance.Scheduler
}

// New creates a Client. The durable cache opening is best-effort: on
// failure the client degrades to an in-memory cache rather than refusing
// to start.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}

	store := openCache(cfg.CachePath, logger)

	c := &Client{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}

	c.transport = transport.New(transport.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: cfg.HTTPClient,
		Logger:     logger,
		Timeout:    cfg.Timeout,
		Retry:      cfg.Retry,
		SDKVersion: "olumi-go/" + Version,
	})
	c.limits = limits.NewManager(limits.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: cfg.HTTPClient,
		Logger:     logger,
		Cache:      store,
	})
	c.prober = probe.New(probe.Config{
		HTTPClient:      cfg.HTTPClient,
		Logger:          logger,
		Cache:           store,
		StreamSupported: cfg.StreamSupported,
	})

	if cfg.Maintenance {
		c.maintenance = maintenance.NewScheduler(maintenance.Config{
			Limits: c.limits,
			Cache:  store,
			Logger: logger,
		})
		if err := c.maintenance.Start(context.Background()); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func openCache(path string, logger *slog.Logger) cache.Cache {
	if path == "off" {
		return cache.NewMemoryCache()
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Warn("no home directory, using in-memory cache")
			return cache.NewMemoryCache()
		}
		dir := filepath.Join(home, ".olumi")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			logger.Warn("cannot create cache directory, using in-memory cache",
				slog.String("error", err.Error()))
			return cache.NewMemoryCache()
		}
		path = "file:" + filepath.Join(dir, "cache.db")
	}
	durable, err := cache.NewLibSQLCache(path)
	if err != nil {
		logger.Warn("cannot open durable cache, using in-memory cache",
			slog.String("error", err.Error()))
		return cache.NewMemoryCache()
	}
	return durable
}

// Limits returns the current engine limits (defaults until hydration).
func (c *Client) Limits() schema.Limits {
	return c.limits.Limits()
}

// HydrateLimits fetches fresh limits. Failure is informational; the
// client keeps working on its current limits.
func (c *Client) HydrateLimits(ctx context.Context) error {
	return c.limits.Hydrate(ctx)
}

// ValidateGraph checks the graph against current limits without
// submitting anything.
func (c *Client) ValidateGraph(g *schema.Graph) error {
	if err := graph.ValidateGraphLimits(g, c.limits.Limits()); err != nil {
		return err
	}
	return nil
}

// PrepareRun validates and projects a graph into a submittable request.
func (c *Client) PrepareRun(g *schema.Graph, seed *int64, detail schema.DetailLevel) (*schema.RunRequest, error) {
	return graph.ToV1Request(g, seed, detail, c.limits.Limits())
}

// ComputeClientHash returns the deterministic content hash used as the
// idempotency fallback.
func (c *Client) ComputeClientHash(g *schema.Graph, seed *int64) string {
	return graph.ComputeClientHash(g, seed)
}

// RunSync submits a prepared request and blocks for the result.
func (c *Client) RunSync(ctx context.Context, req *schema.RunRequest, opts schema.RunOptions) (*schema.SyncRunResponse, error) {
	return c.transport.RunSync(ctx, req, opts)
}

// RunStream submits a prepared request over the streaming endpoint.
// The returned cancel function is idempotent and safe to call from
// handlers.
func (c *Client) RunStream(ctx context.Context, req *schema.RunRequest, opts schema.RunOptions, handlers transport.StreamHandlers) (func(), error) {
	return c.transport.RunStream(ctx, req, opts, handlers)
}

// CancelRun asks the engine to stop a run. Idempotent.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.transport.CancelRun(ctx, runID)
}

// Probe reports whether the backend can take runs right now, reusing a
// cached result when one is fresh.
func (c *Client) Probe(ctx context.Context) *schema.ProbeResult {
	return c.prober.Probe(ctx, c.cfg.BaseURL)
}

// Reset drops cached probe results and hydrated limits, forcing fresh
// state on next use. Call after switching or reconfiguring backends.
func (c *Client) Reset(ctx context.Context) {
	c.prober.Invalidate(ctx, c.cfg.BaseURL)
	c.limits.Reset(ctx)
}

// Close stops background work and releases the durable cache.
func (c *Client) Close() error {
	if c.maintenance != nil {
		if err := c.maintenance.Stop(); err != nil {
			return err
		}
	}
	return c.store.Close()
}
