package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/olumi/olumi-go/internal/logging"
	"github.com/olumi/olumi-go/internal/transport"
	"github.com/olumi/olumi-go/pkg/client"
	"github.com/olumi/olumi-go/pkg/mcp"
	"github.com/olumi/olumi-go/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, cfg, logger, os.Args[2:])
	case "validate":
		err = cmdValidate(ctx, cfg, logger, os.Args[2:])
	case "probe":
		err = cmdProbe(ctx, cfg, logger)
	case "limits":
		err = cmdLimits(ctx, cfg, logger)
	case "mcp":
		err = cmdMCP(ctx, cfg, logger)
	case "version":
		fmt.Println("olumi " + client.Version)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		var cerr *schema.CanonicalError
		if errors.As(err, &cerr) {
			fmt.Fprintf(os.Stderr, "error [%s]: %s\n", cerr.Code, cerr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: olumi <command> [args]

commands:
  run <graph.json>       submit a graph for analysis and print the result
  validate <graph.json>  check a graph against engine limits
  probe                  check backend availability
  limits                 print current engine limits
  mcp                    serve the MCP tool interface on stdio
  version                print the version`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func newClient(cfg Config, logger *slog.Logger) (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:         cfg.BaseURL,
		Logger:          logger,
		Timeout:         cfg.timeout(),
		CachePath:       cfg.CachePath,
		StreamSupported: cfg.Stream,
		Maintenance:     cfg.Maintenance,
	})
}

func loadGraph(path string) (*schema.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var g schema.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	return &g, nil
}

func cmdRun(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("run requires a graph file")
	}
	g, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	c, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	_ = c.HydrateLimits(ctx) // best-effort; defaults work

	req, err := c.PrepareRun(g, nil, schema.DetailStandard)
	if err != nil {
		return err
	}

	if cfg.Stream {
		return runStreaming(ctx, c, req)
	}

	resp, err := c.RunSync(ctx, req, schema.RunOptions{})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runStreaming(ctx context.Context, c *client.Client, req *schema.RunRequest) error {
	done := make(chan error, 1)
	cancel, err := c.RunStream(ctx, req, schema.RunOptions{}, transport.StreamHandlers{
		OnProgress: func(ev schema.ProgressEvent) {
			fmt.Fprintf(os.Stderr, "\rprogress: %3.0f%% %s", ev.Percent, ev.Stage)
		},
		OnComplete: func(ev schema.CompleteEvent) {
			fmt.Fprintln(os.Stderr)
			done <- printJSON(ev)
		},
		OnError: func(cerr *schema.CanonicalError) {
			fmt.Fprintln(os.Stderr)
			done <- cerr
		},
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		return nil
	}
}

func cmdValidate(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("validate requires a graph file")
	}
	g, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	c, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	_ = c.HydrateLimits(ctx)

	if err := c.ValidateGraph(g); err != nil {
		return err
	}
	fmt.Printf("ok (hash %s)\n", c.ComputeClientHash(g, nil))
	return nil
}

func cmdProbe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	c, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return printJSON(c.Probe(ctx))
}

func cmdLimits(ctx context.Context, cfg Config, logger *slog.Logger) error {
	c, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	_ = c.HydrateLimits(ctx)
	return printJSON(c.Limits())
}

func cmdMCP(ctx context.Context, cfg Config, logger *slog.Logger) error {
	c, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := mcp.NewDecideServer(mcp.DecideServerDeps{Client: c, Logger: logger})
	logger.Info("mcp server listening on stdio")
	return srv.Serve(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
