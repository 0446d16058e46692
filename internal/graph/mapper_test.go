package graph

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olumi/olumi-go/pkg/schema"
)

func TestToV1Request_ValidGraph(t *testing.T) {
	g := twoNodeGraph()
	req, err := ToV1Request(g, i64(7), schema.DetailDeep, schema.DefaultLimits())
	require.NoError(t, err)

	assert.Len(t, req.Graph.Nodes, 2)
	assert.Len(t, req.Graph.Edges, 1)
	assert.Equal(t, schema.DetailDeep, req.DetailLevel)
	require.NotNil(t, req.Seed)
	assert.Equal(t, int64(7), *req.Seed)
	assert.Equal(t, ComputeClientHash(g, i64(7)), req.ClientHash)
}

func TestToV1Request_RejectsOversizedGraph(t *testing.T) {
	lim := schema.Limits{MaxNodes: 1, MaxEdges: 1, MaxLabel: 50, MaxBody: 50, RateRPM: 60}
	g := &schema.Graph{Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}}}

	_, err := ToV1Request(g, nil, schema.DetailStandard, lim)
	require.Error(t, err)
	cerr, ok := err.(*schema.CanonicalError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeLimitExceeded, cerr.Code)
}

func TestToV1Request_TruncatesLabelsAndBodies(t *testing.T) {
	// Validation uses the caller limits, but projection still truncates
	// defensively to the same bounds.
	lim := schema.Limits{MaxNodes: 10, MaxEdges: 10, MaxLabel: 120, MaxBody: 2000, RateRPM: 60}
	g := &schema.Graph{Nodes: []schema.Node{{
		ID:    "a",
		Label: strings.Repeat("x", 120),
		Body:  strings.Repeat("y", 2000),
	}}}

	req, err := ToV1Request(g, nil, schema.DetailStandard, lim)
	require.NoError(t, err)
	assert.Len(t, req.Graph.Nodes[0].Label, 120)
	assert.Len(t, req.Graph.Nodes[0].Body, 2000)
}

func TestTruncate_CutsOnRuneBoundaries(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, strings.Repeat("é", 3), truncate(strings.Repeat("é", 5), 3))
	// 🙂 is two code units; a cut inside the pair drops the whole rune.
	assert.Equal(t, "a", truncate("a🙂", 2))
	assert.Equal(t, "a🙂", truncate("a🙂", 3))
	assert.Equal(t, "a🙂", truncate("a🙂", 0))
}

func TestToV1Request_ClampsNumericFields(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{
			{ID: "a", Label: "A", Prior: f(1.7), Utility: f(-3)},
			{ID: "b", Label: "B", Prior: f(-0.2), Utility: f(2)},
		},
		Edges: []schema.Edge{{From: "a", To: "b", Belief: f(1.4)}},
	}

	req, err := ToV1Request(g, nil, schema.DetailStandard, schema.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 1.0, *req.Graph.Nodes[0].Prior)
	assert.Equal(t, -1.0, *req.Graph.Nodes[0].Utility)
	assert.Equal(t, 0.0, *req.Graph.Nodes[1].Prior)
	assert.Equal(t, 1.0, *req.Graph.Nodes[1].Utility)
	assert.Equal(t, 1.0, *req.Graph.Edges[0].Belief)
}

func TestToV1Request_NormalizesPercentageConfidence(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
		Edges: []schema.Edge{{From: "a", To: "b", Confidence: f(100)}},
	}

	req, err := ToV1Request(g, nil, schema.DetailStandard, schema.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 1.0, *req.Graph.Edges[0].Confidence)
}

func TestToV1Request_TruncatesProvenance(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
		Edges: []schema.Edge{{From: "a", To: "b", Confidence: f(1.0), Provenance: strings.Repeat("p", 500)}},
	}

	req, err := ToV1Request(g, nil, schema.DetailStandard, schema.DefaultLimits())
	require.NoError(t, err)
	assert.Len(t, req.Graph.Edges[0].Provenance, maxProvenance)
}

func TestToV1Request_WireRejectsEmptyNodeID(t *testing.T) {
	g := &schema.Graph{Nodes: []schema.Node{{ID: "", Label: "A"}}}

	_, err := ToV1Request(g, nil, schema.DetailStandard, schema.DefaultLimits())
	require.Error(t, err)
	cerr, ok := err.(*schema.CanonicalError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeBadInput, cerr.Code)
}

func TestRunRequest_KeyNeverSerialized(t *testing.T) {
	req, err := ToV1Request(twoNodeGraph(), nil, schema.DetailStandard, schema.DefaultLimits())
	require.NoError(t, err)
	req.IdempotencyKey = "explicit-key"

	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "explicit-key")
	assert.NotContains(t, string(raw), req.ClientHash)
}

func TestRunRequest_KeyPrecedence(t *testing.T) {
	req := &schema.RunRequest{ClientHash: "deadbeef"}
	assert.Equal(t, "deadbeef", req.Key())

	req.IdempotencyKey = "explicit"
	assert.Equal(t, "explicit", req.Key())
}
