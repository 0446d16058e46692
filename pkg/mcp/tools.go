package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/olumi/olumi-go/pkg/schema"
)

// handleRun validates, projects and submits a graph, blocking for the result.
func (s *DecideServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := parseGraph(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var seed *int64
	if _, ok := req.GetArguments()["seed"]; ok {
		n := int64(req.GetFloat("seed", 0))
		seed = &n
	}
	detail := schema.DetailLevel(req.GetString("detail_level", string(schema.DetailStandard)))

	run, prepErr := s.client.PrepareRun(g, seed, detail)
	if prepErr != nil {
		return toolError(prepErr), nil
	}
	run.IdempotencyKey = req.GetString("idempotency_key", "")

	resp, runErr := s.client.RunSync(ctx, run, schema.RunOptions{})
	if runErr != nil {
		return toolError(runErr), nil
	}

	return marshalResult(map[string]any{
		"run_id":     resp.RunID,
		"result":     resp.Result,
		"request_id": resp.RequestID,
	})
}

// handleValidate checks a graph against current limits without submitting.
func (s *DecideServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := parseGraph(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if valErr := s.client.ValidateGraph(g); valErr != nil {
		var cerr *schema.CanonicalError
		if errors.As(valErr, &cerr) {
			return marshalResult(map[string]any{
				"valid":   false,
				"code":    cerr.Code,
				"message": cerr.Message,
				"field":   cerr.Field,
				"max":     cerr.Max,
			})
		}
		return toolError(valErr), nil
	}

	return marshalResult(map[string]any{
		"valid":       true,
		"client_hash": s.client.ComputeClientHash(g, nil),
	})
}

// handleProbe reports backend availability.
func (s *DecideServer) handleProbe(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(s.client.Probe(ctx))
}

// handleLimits returns the current limits, optionally forcing hydration.
func (s *DecideServer) handleLimits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetString("refresh", "") == "true" {
		// Best-effort: a failed refresh still returns usable limits.
		_ = s.client.HydrateLimits(ctx)
	}
	return marshalResult(s.client.Limits())
}

// --- Internal helpers ---

// parseGraph extracts and decodes the graph argument.
func parseGraph(req mcp.CallToolRequest) (*schema.Graph, error) {
	raw := mcp.ParseStringMap(req, "graph", nil)
	if raw == nil {
		return nil, fmt.Errorf("graph is required")
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid graph: %v", err)
	}
	var g schema.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("invalid graph: %v", err)
	}
	return &g, nil
}

// toolError renders an error as a tool failure, preserving the canonical
// code when one exists.
func toolError(err error) *mcp.CallToolResult {
	var cerr *schema.CanonicalError
	if errors.As(err, &cerr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", cerr.Code, cerr.Message))
	}
	return mcp.NewToolResultError(err.Error())
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
