package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEventKind_CanonicalNames(t *testing.T) {
	assert.Equal(t, EventStarted, ParseEventKind("started"))
	assert.Equal(t, EventProgress, ParseEventKind("progress"))
	assert.Equal(t, EventInterim, ParseEventKind("interim"))
	assert.Equal(t, EventHeartbeat, ParseEventKind("heartbeat"))
	assert.Equal(t, EventComplete, ParseEventKind("complete"))
	assert.Equal(t, EventError, ParseEventKind("error"))
	assert.Equal(t, EventCancelled, ParseEventKind("cancelled"))
}

func TestParseEventKind_Aliases(t *testing.T) {
	cases := map[string]EventKind{
		"start":          EventStarted,
		"run_started":    EventStarted,
		"run_progress":   EventProgress,
		"interim_result": EventInterim,
		"partial":        EventInterim,
		"ping":           EventHeartbeat,
		"keepalive":      EventHeartbeat,
		"keep-alive":     EventHeartbeat,
		"completed":      EventComplete,
		"done":           EventComplete,
		"run_complete":   EventComplete,
		"err":            EventError,
		"failed":         EventError,
		"failure":        EventError,
		"canceled":       EventCancelled,
		"cancel":         EventCancelled,
	}
	for wire, want := range cases {
		assert.Equal(t, want, ParseEventKind(wire), "wire %q", wire)
	}
}

func TestParseEventKind_NormalizesCaseAndSpace(t *testing.T) {
	assert.Equal(t, EventComplete, ParseEventKind(" Complete "))
	assert.Equal(t, EventHeartbeat, ParseEventKind("PING"))
}

func TestParseEventKind_UnknownIsUnknown(t *testing.T) {
	assert.Equal(t, EventUnknown, ParseEventKind("telemetry"))
	assert.Equal(t, EventUnknown, ParseEventKind(""))
}
