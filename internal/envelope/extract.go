// Package envelope normalizes the engine's result envelopes. Different
// backend versions wrap the same logical result in different shapes; an
// explicit, ordered list of extraction rules (first-match-wins) replaces
// ad hoc optional chaining so the precedence order lives in one place.
package envelope

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/olumi/olumi-go/pkg/schema"
)

// Rule is one extraction step: a jq query tried against the raw envelope.
// The first rule producing a non-null value wins.
type Rule struct {
	Name  string
	Query string
}

// runIDRules locate the run identifier across known envelope versions.
var runIDRules = []Rule{
	{Name: "top-level run_id", Query: ".run_id"},
	{Name: "camel-case runId", Query: ".runId"},
	{Name: "bare id", Query: ".id"},
	{Name: "nested result.run_id", Query: ".result.run_id"},
}

// resultRules locate the result payload across known envelope versions.
// The identity rule last means an unrecognized envelope is passed through
// whole rather than dropped.
var resultRules = []Rule{
	{Name: "v1 result", Query: ".result"},
	{Name: "wrapped data.result", Query: ".data.result"},
	{Name: "legacy analysis", Query: ".analysis"},
	{Name: "legacy output", Query: ".output"},
	{Name: "identity", Query: "."},
}

// Normalizer applies the extraction rules. Compiled queries are cached
// and reused; safe for concurrent use.
type Normalizer struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewNormalizer creates a Normalizer with an empty compile cache.
func NewNormalizer() *Normalizer {
	return &Normalizer{cache: make(map[string]*gojq.Code)}
}

// Normalize reduces a raw response envelope to a SyncRunResponse.
func (n *Normalizer) Normalize(ctx context.Context, doc map[string]any) (*schema.SyncRunResponse, error) {
	out := &schema.SyncRunResponse{}

	if v, err := n.firstMatch(ctx, runIDRules, doc); err != nil {
		return nil, err
	} else if s, ok := v.(string); ok {
		out.RunID = s
	}

	v, err := n.firstMatch(ctx, resultRules, doc)
	if err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		out.Result = m
	}

	return out, nil
}

// firstMatch evaluates rules in order and returns the first non-null value.
func (n *Normalizer) firstMatch(ctx context.Context, rules []Rule, doc map[string]any) (any, error) {
	for _, rule := range rules {
		code, err := n.getOrCompile(rule.Query)
		if err != nil {
			return nil, fmt.Errorf("envelope rule %q: %w", rule.Name, err)
		}
		iter := code.RunWithContext(ctx, doc)
		val, ok := iter.Next()
		if !ok {
			continue
		}
		if _, isErr := val.(error); isErr {
			continue
		}
		if val != nil {
			return val, nil
		}
	}
	return nil, nil
}

// getOrCompile returns a cached compiled query or compiles and caches a new one.
func (n *Normalizer) getOrCompile(query string) (*gojq.Code, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if code, ok := n.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse jq %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed,
		// Sandbox: block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("compile jq %q: %w", query, err)
	}
	n.cache[query] = code
	return code, nil
}
