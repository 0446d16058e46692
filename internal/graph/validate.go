// Package graph maps the client-side decision graph onto the v1 wire
// schema, enforces structural and size constraints, and derives the
// deterministic content hash used for idempotency.
package graph

import (
	"github.com/olumi/olumi-go/pkg/schema"
)

// confidenceTolerance is the accepted deviation around a 100% sum.
const confidenceTolerance = 0.01

// ValidateGraphLimits checks the graph against the given limits.
// Checks run in order and short-circuit on the first failure:
// node count, edge count, per-node label/body length, per-node outgoing
// confidence sums. Returns nil when the graph passes.
func ValidateGraphLimits(g *schema.Graph, lim schema.Limits) *schema.CanonicalError {
	if g == nil {
		return schema.NewError(schema.ErrCodeBadInput, "graph is nil")
	}

	if len(g.Nodes) > lim.MaxNodes {
		return schema.NewErrorf(schema.ErrCodeLimitExceeded,
			"graph has %d nodes, maximum is %d", len(g.Nodes), lim.MaxNodes).
			WithField("nodes").WithMax(lim.MaxNodes)
	}

	if len(g.Edges) > lim.MaxEdges {
		return schema.NewErrorf(schema.ErrCodeLimitExceeded,
			"graph has %d edges, maximum is %d", len(g.Edges), lim.MaxEdges).
			WithField("edges").WithMax(lim.MaxEdges)
	}

	for _, n := range g.Nodes {
		if labelLen := utf16Len(n.Label); labelLen > lim.MaxLabel {
			return schema.NewErrorf(schema.ErrCodeLimitExceeded,
				"node %q label is %d characters, maximum is %d", n.ID, labelLen, lim.MaxLabel).
				WithField("label").WithMax(lim.MaxLabel)
		}
		if bodyLen := utf16Len(n.Body); bodyLen > lim.MaxBody {
			return schema.NewErrorf(schema.ErrCodeLimitExceeded,
				"node %q body is %d characters, maximum is %d", n.ID, bodyLen, lim.MaxBody).
				WithField("body").WithMax(lim.MaxBody)
		}
	}

	return validateConfidenceSums(g)
}

// validateConfidenceSums checks that each node's outgoing confidences sum
// to 100% ±1%. Values >1 are reinterpreted as percentages and divided by
// 100. A node with any confidence-less outgoing edge is skipped entirely:
// the engine applies its own defaults there.
func validateConfidenceSums(g *schema.Graph) *schema.CanonicalError {
	outgoing := make(map[string][]schema.Edge)
	for _, e := range g.Edges {
		outgoing[e.From] = append(outgoing[e.From], e)
	}

	for _, n := range g.Nodes {
		edges := outgoing[n.ID]
		if len(edges) == 0 {
			continue
		}

		sum := 0.0
		complete := true
		for _, e := range edges {
			if e.Confidence == nil {
				complete = false
				break
			}
			sum += NormalizeConfidence(*e.Confidence)
		}
		if !complete {
			continue
		}

		if sum < 1.0-confidenceTolerance || sum > 1.0+confidenceTolerance {
			return schema.NewErrorf(schema.ErrCodeBadInput,
				"outgoing confidence for node %q sums to %.1f%%, expected 100%% ±1%%",
				n.ID, sum*100).
				WithField(n.ID)
		}
	}

	return nil
}

// NormalizeConfidence reinterprets values >1 as percentages.
func NormalizeConfidence(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// utf16Len counts UTF-16 code units, the same unit the client hash walks.
// Limits are character limits, not byte limits: a non-ASCII label must
// count the same here as it does engine-side.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n++
		if r > 0xFFFF {
			n++
		}
	}
	return n
}
