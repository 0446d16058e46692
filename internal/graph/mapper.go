package graph

import (
	"github.com/olumi/olumi-go/pkg/schema"
)

// ToV1Request re-validates the graph and projects it onto the v1 wire
// schema. Labels and bodies are truncated defensively even after
// validation passes; prior, utility and belief are clamped to their valid
// ranges rather than rejected; confidences >1 are divided by 100. The
// derived client hash is attached so the transport can use it as the
// idempotency fallback.
func ToV1Request(g *schema.Graph, seed *int64, detail schema.DetailLevel, lim schema.Limits) (*schema.RunRequest, error) {
	if err := ValidateGraphLimits(g, lim); err != nil {
		return nil, err
	}

	wire := schema.Graph{
		Nodes: make([]schema.Node, 0, len(g.Nodes)),
		Edges: make([]schema.Edge, 0, len(g.Edges)),
	}

	for _, n := range g.Nodes {
		node := schema.Node{
			ID:    n.ID,
			Label: truncate(n.Label, lim.MaxLabel),
			Body:  truncate(n.Body, lim.MaxBody),
			Kind:  n.Kind,
		}
		if n.Prior != nil {
			node.Prior = ptr(clamp(*n.Prior, 0, 1))
		}
		if n.Utility != nil {
			node.Utility = ptr(clamp(*n.Utility, -1, 1))
		}
		wire.Nodes = append(wire.Nodes, node)
	}

	for _, e := range g.Edges {
		edge := schema.Edge{
			ID:         e.ID,
			From:       e.From,
			To:         e.To,
			Weight:     e.Weight,
			Provenance: truncate(e.Provenance, maxProvenance),
		}
		if e.Confidence != nil {
			edge.Confidence = ptr(NormalizeConfidence(*e.Confidence))
		}
		if e.Belief != nil {
			edge.Belief = ptr(clamp(*e.Belief, 0, 1))
		}
		wire.Edges = append(wire.Edges, edge)
	}

	req := &schema.RunRequest{
		Graph:       wire,
		Seed:        seed,
		DetailLevel: detail,
		ClientHash:  ComputeClientHash(g, seed),
	}

	if err := validateWire(req); err != nil {
		return nil, err
	}
	return req, nil
}

// maxProvenance caps edge provenance strings on the wire.
const maxProvenance = 100

// truncate trims s to at most max UTF-16 code units, cutting on a rune
// boundary so a multi-byte character is never split.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i, r := range s {
		w := 1
		if r > 0xFFFF {
			w = 2
		}
		if n+w > max {
			return s[:i]
		}
		n += w
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ptr(v float64) *float64 { return &v }
