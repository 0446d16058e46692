package graph

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olumi/olumi-go/pkg/schema"
)

func TestValidateGraphLimits_NilGraph(t *testing.T) {
	err := ValidateGraphLimits(nil, schema.DefaultLimits())
	require.NotNil(t, err)
	assert.Equal(t, schema.ErrCodeBadInput, err.Code)
}

func TestValidateGraphLimits_ValidGraph(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
		Edges: []schema.Edge{{From: "a", To: "b", Confidence: f(1.0)}},
	}
	assert.Nil(t, ValidateGraphLimits(g, schema.DefaultLimits()))
}

func TestValidateGraphLimits_TooManyNodes(t *testing.T) {
	lim := schema.DefaultLimits()
	g := &schema.Graph{}
	for i := 0; i <= lim.MaxNodes; i++ {
		g.Nodes = append(g.Nodes, schema.Node{ID: fmt.Sprintf("n%d", i), Label: "n"})
	}

	err := ValidateGraphLimits(g, lim)
	require.NotNil(t, err)
	assert.Equal(t, schema.ErrCodeLimitExceeded, err.Code)
	assert.Equal(t, "nodes", err.Field)
	assert.Equal(t, lim.MaxNodes, err.Max)
}

func TestValidateGraphLimits_TooManyEdges(t *testing.T) {
	lim := schema.Limits{MaxNodes: 10, MaxEdges: 2, MaxLabel: 50, MaxBody: 50, RateRPM: 60}
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
		Edges: []schema.Edge{
			{From: "a", To: "b"}, {From: "b", To: "a"}, {From: "a", To: "a"},
		},
	}

	err := ValidateGraphLimits(g, lim)
	require.NotNil(t, err)
	assert.Equal(t, schema.ErrCodeLimitExceeded, err.Code)
	assert.Equal(t, "edges", err.Field)
	assert.Equal(t, 2, err.Max)
}

func TestValidateGraphLimits_LabelTooLong(t *testing.T) {
	lim := schema.Limits{MaxNodes: 10, MaxEdges: 10, MaxLabel: 5, MaxBody: 50, RateRPM: 60}
	g := &schema.Graph{Nodes: []schema.Node{{ID: "a", Label: "much too long"}}}

	err := ValidateGraphLimits(g, lim)
	require.NotNil(t, err)
	assert.Equal(t, schema.ErrCodeLimitExceeded, err.Code)
	assert.Equal(t, "label", err.Field)
	assert.Equal(t, 5, err.Max)
}

func TestValidateGraphLimits_BodyTooLong(t *testing.T) {
	lim := schema.Limits{MaxNodes: 10, MaxEdges: 10, MaxLabel: 50, MaxBody: 4, RateRPM: 60}
	g := &schema.Graph{Nodes: []schema.Node{{ID: "a", Label: "A", Body: "verbose"}}}

	err := ValidateGraphLimits(g, lim)
	require.NotNil(t, err)
	assert.Equal(t, "body", err.Field)
}

func TestValidateGraphLimits_LimitsCountCharactersNotBytes(t *testing.T) {
	lim := schema.Limits{MaxNodes: 10, MaxEdges: 10, MaxLabel: 120, MaxBody: 2000, RateRPM: 60}

	// 120 two-byte characters is 240 bytes but exactly at the limit.
	g := &schema.Graph{Nodes: []schema.Node{{ID: "a", Label: strings.Repeat("é", 120)}}}
	assert.Nil(t, ValidateGraphLimits(g, lim))

	g.Nodes[0].Label = strings.Repeat("é", 121)
	err := ValidateGraphLimits(g, lim)
	require.NotNil(t, err)
	assert.Equal(t, schema.ErrCodeLimitExceeded, err.Code)
	assert.Equal(t, "label", err.Field)
	assert.Contains(t, err.Message, "121 characters")
}

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 0, utf16Len(""))
	assert.Equal(t, 5, utf16Len("hello"))
	assert.Equal(t, 3, utf16Len("héé"))
	// Supplementary-plane runes take two code units, matching the hash.
	assert.Equal(t, 2, utf16Len("🙂"))
}

func TestValidateGraphLimits_ConfidenceSumTooLow(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"}},
		Edges: []schema.Edge{
			{From: "a", To: "b", Confidence: f(0.5)},
			{From: "a", To: "c", Confidence: f(0.4)},
		},
	}

	err := ValidateGraphLimits(g, schema.DefaultLimits())
	require.NotNil(t, err)
	assert.Equal(t, schema.ErrCodeBadInput, err.Code)
	assert.Equal(t, "a", err.Field)
	assert.Contains(t, err.Message, "90.0%")
	assert.Contains(t, err.Message, "100% ±1%")
}

func TestValidateGraphLimits_ConfidenceSumWithinTolerance(t *testing.T) {
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"}},
		Edges: []schema.Edge{
			{From: "a", To: "b", Confidence: f(0.499)},
			{From: "a", To: "c", Confidence: f(0.496)},
		},
	}
	assert.Nil(t, ValidateGraphLimits(g, schema.DefaultLimits()))
}

func TestValidateGraphLimits_PercentageConfidencesNormalized(t *testing.T) {
	// 60 + 40 reads as 60% + 40%.
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"}},
		Edges: []schema.Edge{
			{From: "a", To: "b", Confidence: f(60)},
			{From: "a", To: "c", Confidence: f(40)},
		},
	}
	assert.Nil(t, ValidateGraphLimits(g, schema.DefaultLimits()))
}

func TestValidateGraphLimits_MissingConfidenceSkipsNode(t *testing.T) {
	// One edge without confidence exempts the whole node from the sum check.
	g := &schema.Graph{
		Nodes: []schema.Node{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"}},
		Edges: []schema.Edge{
			{From: "a", To: "b", Confidence: f(0.2)},
			{From: "a", To: "c"},
		},
	}
	assert.Nil(t, ValidateGraphLimits(g, schema.DefaultLimits()))
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.75, NormalizeConfidence(0.75))
	assert.Equal(t, 0.75, NormalizeConfidence(75))
	assert.Equal(t, 1.0, NormalizeConfidence(1.0))
	assert.InDelta(t, 0.011, NormalizeConfidence(1.1), 1e-9)
}
