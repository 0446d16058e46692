package schema

// Limits are the engine's capacity limits. Constructed with static
// defaults at process start; best-effort replaced after hydration.
type Limits struct {
	MaxNodes int `json:"max_nodes"`
	MaxEdges int `json:"max_edges"`
	MaxLabel int `json:"max_label"`
	MaxBody  int `json:"max_body"`
	RateRPM  int `json:"rate_rpm"`
}

// DefaultLimits returns the static fallback limits. Conservative on
// purpose: the UI must stay usable when hydration never succeeds.
func DefaultLimits() Limits {
	return Limits{
		MaxNodes: 200,
		MaxEdges: 600,
		MaxLabel: 120,
		MaxBody:  2000,
		RateRPM:  60,
	}
}

// Valid reports whether every limit is positive. Guards against a corrupt
// durable-cache entry or a malformed hydration payload replacing sane
// defaults with zeros.
func (l Limits) Valid() bool {
	return l.MaxNodes > 0 && l.MaxEdges > 0 && l.MaxLabel > 0 && l.MaxBody > 0 && l.RateRPM > 0
}

// LimitsPayload is the GET /v1/limits wire shape.
type LimitsPayload struct {
	Nodes     LimitMax  `json:"nodes"`
	Edges     LimitMax  `json:"edges"`
	Label     LimitMax  `json:"label"`
	Body      LimitMax  `json:"body"`
	RateLimit RateLimit `json:"rate_limit"`
}

// LimitMax wraps a single max value.
type LimitMax struct {
	Max int `json:"max"`
}

// RateLimit is the requests-per-minute budget.
type RateLimit struct {
	RPM int `json:"rpm"`
}

// ToLimits flattens the wire payload into Limits.
func (p LimitsPayload) ToLimits() Limits {
	return Limits{
		MaxNodes: p.Nodes.Max,
		MaxEdges: p.Edges.Max,
		MaxLabel: p.Label.Max,
		MaxBody:  p.Body.Max,
		RateRPM:  p.RateLimit.RPM,
	}
}
