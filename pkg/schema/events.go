package schema

import "strings"

// EventKind is the canonical stream event vocabulary. Wire spellings are
// mapped onto this set before the state machine sees them.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventInterim   EventKind = "interim"
	EventHeartbeat EventKind = "heartbeat"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
	EventUnknown   EventKind = ""
)

// eventAliases maps historical and alternate backend spellings onto the
// canonical kinds, tolerating version skew during incremental rollout.
var eventAliases = map[string]EventKind{
	"started":        EventStarted,
	"start":          EventStarted,
	"run_started":    EventStarted,
	"progress":       EventProgress,
	"run_progress":   EventProgress,
	"interim":        EventInterim,
	"interim_result": EventInterim,
	"partial":        EventInterim,
	"heartbeat":      EventHeartbeat,
	"ping":           EventHeartbeat,
	"keepalive":      EventHeartbeat,
	"keep-alive":     EventHeartbeat,
	"complete":       EventComplete,
	"completed":      EventComplete,
	"done":           EventComplete,
	"run_complete":   EventComplete,
	"error":          EventError,
	"err":            EventError,
	"failed":         EventError,
	"failure":        EventError,
	"cancelled":      EventCancelled,
	"canceled":       EventCancelled,
	"cancel":         EventCancelled,
}

// ParseEventKind resolves a wire event name to its canonical kind.
// Unknown names return EventUnknown and are skipped by the transport.
func ParseEventKind(wire string) EventKind {
	kind, ok := eventAliases[strings.ToLower(strings.TrimSpace(wire))]
	if !ok {
		return EventUnknown
	}
	return kind
}

// StartedEvent announces that the engine accepted the run.
type StartedEvent struct {
	RunID string `json:"run_id,omitempty"`
}

// ProgressEvent reports analysis progress. Percent is display-smoothed by
// the transport: capped at 90 until completion, then a synthetic 100.
type ProgressEvent struct {
	Percent float64 `json:"percent"`
	Stage   string  `json:"stage,omitempty"`
}

// InterimEvent carries a partial result snapshot.
type InterimEvent struct {
	Result map[string]any `json:"result,omitempty"`
}

// CompleteEvent carries the final result.
type CompleteEvent struct {
	RunID  string         `json:"run_id,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}
