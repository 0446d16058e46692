package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/olumi/olumi-go/pkg/schema"
)

// runRequestSchemaJSON is the JSON Schema for the v1 run request.
// Embedded as a constant to avoid filesystem dependencies. It is the last
// line of defense before bytes hit the wire; the limit checks above catch
// everything actionable first.
const runRequestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://olumi.dev/schemas/v1-run-request.json",
  "type": "object",
  "required": ["graph"],
  "properties": {
    "graph": {
      "type": "object",
      "required": ["nodes", "edges"],
      "properties": {
        "nodes": {
          "type": "array",
          "items": { "$ref": "#/$defs/node" }
        },
        "edges": {
          "type": "array",
          "items": { "$ref": "#/$defs/edge" }
        }
      },
      "additionalProperties": false
    },
    "seed": { "type": "integer" },
    "detail_level": {
      "type": "string",
      "enum": ["quick", "standard", "deep"]
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "label"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "body": { "type": "string" },
        "kind": { "type": "string" },
        "prior": { "type": "number", "minimum": 0, "maximum": 1 },
        "utility": { "type": "number", "minimum": -1, "maximum": 1 }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "id": { "type": "string" },
        "from": { "type": "string", "minLength": 1 },
        "to": { "type": "string", "minLength": 1 },
        "confidence": { "type": "number", "minimum": 0 },
        "weight": { "type": "number" },
        "belief": { "type": "number", "minimum": 0, "maximum": 1 },
        "provenance": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

var (
	compileOnce      sync.Once
	runRequestSchema *jsonschema.Schema
	compileErr       error
)

// compiledSchema compiles the embedded schema once per process.
func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(runRequestSchemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal run request schema: %w", err)
			return
		}
		if err := c.AddResource("https://olumi.dev/schemas/v1-run-request.json", doc); err != nil {
			compileErr = fmt.Errorf("add run request schema resource: %w", err)
			return
		}
		runRequestSchema, compileErr = c.Compile("https://olumi.dev/schemas/v1-run-request.json")
	})
	return runRequestSchema, compileErr
}

// validateWire checks the projected request against the embedded schema.
func validateWire(req *schema.RunRequest) error {
	compiled, err := compiledSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeBadInput, "run request schema unavailable").WithCause(err)
	}

	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeBadInput, "failed to serialize run request").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toCanonicalError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so
// that numeric values become json.Number (required by the jsonschema
// library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toCanonicalError converts a jsonschema.ValidationError into a
// CanonicalError with the leaf violations collected for diagnostics.
func toCanonicalError(err error) *schema.CanonicalError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeBadInput, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeBadInput, verr.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("request failed structural validation with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeBadInput, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
