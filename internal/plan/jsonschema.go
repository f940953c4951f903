package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dcastano/ensemble/pkg/schema"
)

// planSchemaJSON is the JSON Schema for WorkflowPlan validation.
// Embedded as a constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://ensemble.dev/schemas/plan.json",
  "type": "object",
  "required": ["original_query", "strategy", "stages"],
  "properties": {
    "original_query": {
      "type": "string",
      "minLength": 1
    },
    "strategy": {
      "type": "string",
      "enum": ["simple", "sequential", "parallel", "mixed"]
    },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/stage" }
    },
    "synthesizer_id": {
      "type": "integer",
      "minimum": 0
    },
    "requires_qa": { "type": "boolean" },
    "estimated_seconds": {
      "type": "integer",
      "minimum": 0
    },
    "initial_actions": {
      "type": "array",
      "items": { "$ref": "#/$defs/action" }
    },
    "final_actions": {
      "type": "array",
      "items": { "$ref": "#/$defs/action" }
    },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "stage": {
      "type": "object",
      "required": ["type", "nodes"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["parallel", "sequential"]
        },
        "nodes": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/node" }
        }
      },
      "additionalProperties": false
    },
    "node": {
      "type": "object",
      "required": ["executor_id", "input"],
      "properties": {
        "executor_id": {
          "type": "integer",
          "minimum": 0
        },
        "executor_name": { "type": "string" },
        "input": {
          "type": "string",
          "minLength": 1
        },
        "rationale": { "type": "string" },
        "input_actions": {
          "type": "array",
          "items": { "$ref": "#/$defs/action" }
        },
        "output_actions": {
          "type": "array",
          "items": { "$ref": "#/$defs/action" }
        }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["method"],
      "properties": {
        "method": {
          "type": "string",
          "minLength": 1
        },
        "params": {},
        "priority": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates raw plans against the plan JSON Schema
// (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	planSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the plan schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource("https://ensemble.dev/schemas/plan.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}

	compiled, err := c.Compile("https://ensemble.dev/schemas/plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &JSONSchemaValidator{planSchema: compiled}, nil
}

// ValidatePlan validates a WorkflowPlan against the plan JSON Schema.
func (v *JSONSchemaValidator) ValidatePlan(p *schema.WorkflowPlan) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow plan is nil")
	}

	doc, err := toJSONValue(p)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow plan").WithCause(err)
	}

	if err := v.planSchema.Validate(doc); err != nil {
		return toEnsembleError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEnsembleError converts a jsonschema.ValidationError into an EnsembleError
// with clear, actionable messages for planner consumption.
func toEnsembleError(err error) *schema.EnsembleError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
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
