package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"github.com/olumi/olumi-go/pkg/schema"
)

// hashNode and hashEdge are the canonical projections: only fields that
// affect engine computation participate in the hash, so UI re-renders
// that reorder nodes or touch cosmetic fields keep the same fingerprint.
type hashNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Body  string `json:"body"`
}

type hashEdge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Weight     *float64 `json:"weight"`
	Confidence *float64 `json:"confidence"`
}

type hashForm struct {
	Nodes []hashNode `json:"nodes"`
	Edges []hashEdge `json:"edges"`
	Seed  *int64     `json:"seed"`
}

// ComputeClientHash produces a stable hex digest over the canonical JSON
// form of the graph. Nodes are sorted by id and edges by "from-to", so
// the hash is insertion-order-independent — required because it serves as
// an idempotency key across re-renders. The digest is a djb2-style
// rolling hash over UTF-16 code units, reduced to 32 bits: weak
// cryptographically, adequate as a dedup fingerprint since the server
// validates payloads independently.
func ComputeClientHash(g *schema.Graph, seed *int64) string {
	form := hashForm{Seed: seed}

	for _, n := range g.Nodes {
		form.Nodes = append(form.Nodes, hashNode{ID: n.ID, Label: n.Label, Body: n.Body})
	}
	sort.Slice(form.Nodes, func(i, j int) bool {
		return form.Nodes[i].ID < form.Nodes[j].ID
	})

	for _, e := range g.Edges {
		form.Edges = append(form.Edges, hashEdge{
			From:       e.From,
			To:         e.To,
			Weight:     e.Weight,
			Confidence: e.Confidence,
		})
	}
	sort.Slice(form.Edges, func(i, j int) bool {
		return form.Edges[i].From+"-"+form.Edges[i].To < form.Edges[j].From+"-"+form.Edges[j].To
	})

	// Marshal cannot fail on these types.
	canonical, _ := json.Marshal(form)

	var h uint32 = 5381
	for _, cu := range utf16.Encode([]rune(string(canonical))) {
		h = h*33 + uint32(cu)
	}
	return fmt.Sprintf("%08x", h)
}
