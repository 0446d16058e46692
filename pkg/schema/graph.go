package schema

import "time"

// Graph is the client-side decision graph passed to the mapper. Edge
// referential integrity (from/to pointing at existing node IDs) is the
// graph editor's responsibility, not the transport layer's.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single decision-graph node.
type Node struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Body    string   `json:"body,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Prior   *float64 `json:"prior,omitempty"`   // [0,1]
	Utility *float64 `json:"utility,omitempty"` // [-1,1]
}

// Edge is a directed link between two nodes.
type Edge struct {
	ID         string   `json:"id,omitempty"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Confidence *float64 `json:"confidence,omitempty"` // [0,1]; >1 means percentage
	Weight     *float64 `json:"weight,omitempty"`
	Belief     *float64 `json:"belief,omitempty"` // [0,1]
	Provenance string   `json:"provenance,omitempty"`
}

// DetailLevel controls how deep the engine analyzes a run.
type DetailLevel string

const (
	DetailQuick    DetailLevel = "quick"
	DetailStandard DetailLevel = "standard"
	DetailDeep     DetailLevel = "deep"
)

// RunRequest wraps a graph for submission. The idempotency key (explicit
// or derived client hash) travels as a header only — the json:"-" tags are
// a hard requirement, not a convenience: the engine treats the header as
// the sole source of truth for deduplication.
type RunRequest struct {
	Graph       Graph       `json:"graph"`
	Seed        *int64      `json:"seed,omitempty"`
	DetailLevel DetailLevel `json:"detail_level,omitempty"`

	IdempotencyKey string `json:"-"`
	ClientHash     string `json:"-"`
}

// Key returns the idempotency token to send: the explicit key when set,
// the derived client hash otherwise. Empty means none.
func (r *RunRequest) Key() string {
	if r.IdempotencyKey != "" {
		return r.IdempotencyKey
	}
	return r.ClientHash
}

// SyncRunResponse is the normalized result of a synchronous run.
type SyncRunResponse struct {
	RunID     string            `json:"run_id,omitempty"`
	Result    map[string]any    `json:"result,omitempty"`
	Debug     map[string]string `json:"-"` // out-of-band debug headers
	RequestID string            `json:"-"`
}

// RunOptions are per-call overrides for either transport.
type RunOptions struct {
	// Timeout overrides the configured per-attempt deadline. Zero keeps
	// the default.
	Timeout time.Duration
	// RequestID is used for the first attempt's X-Request-Id; retries
	// always generate a fresh one.
	RequestID string
}
