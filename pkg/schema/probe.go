package schema

import "time"

// HealthStatus classifies a probed backend.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"       // /v1/health answered
	HealthDegraded HealthStatus = "degraded" // only the legacy /health answered
	HealthDown     HealthStatus = "down"     // neither answered
)

// ProbeTTL is how long a probe result stays valid in both caches.
const ProbeTTL = 5 * time.Minute

// ProbeResult is the cached outcome of a capability probe. The run
// endpoint is trusted when health succeeds — probing it directly caused
// false negatives behind gateways that mishandle HEAD/OPTIONS. Stream
// availability is a version-gated flag, never probed.
type ProbeResult struct {
	Available    bool           `json:"available"`
	Timestamp    time.Time      `json:"timestamp"`
	HealthStatus HealthStatus   `json:"health_status"`
	Endpoints    ProbeEndpoints `json:"endpoints"`
}

// ProbeEndpoints records which routes the probe considers usable.
type ProbeEndpoints struct {
	Health bool `json:"health"`
	Run    bool `json:"run"`
	Stream bool `json:"stream"`
}

// Expired reports whether the result is older than the probe TTL.
func (r *ProbeResult) Expired(now time.Time) bool {
	return now.Sub(r.Timestamp) >= ProbeTTL
}
