package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"llm-trade-bot-go/internal/decision"
)

// ErrContractViolation marks a structured response that does not match the decision schema.
var ErrContractViolation = errors.New("backend: response violates decision contract")

// DecisionSchemaName is the name the schema is registered under with the provider.
const DecisionSchemaName = "trade_decision"

// decisionSchemaJSON is sent to the provider as the strict response format and
// also used to validate the answer locally. Strict mode needs every property
// listed as required, so optional payloads are nullable instead.
const decisionSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["operation", "buy", "sell", "riskAdjustment", "narrative"],
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["Buy", "Sell", "Hold"]
    },
    "buy": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "required": ["pricing", "amount", "leverage"],
      "properties": {
        "pricing": {"type": "number", "exclusiveMinimum": 0},
        "amount": {"type": "number", "exclusiveMinimum": 0},
        "leverage": {"type": "integer", "minimum": 1, "maximum": 20}
      }
    },
    "sell": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "required": ["percentage"],
      "properties": {
        "percentage": {"type": "number", "minimum": 0, "maximum": 100}
      }
    },
    "riskAdjustment": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "required": ["stopLoss", "takeProfit"],
      "properties": {
        "stopLoss": {"type": ["number", "null"]},
        "takeProfit": {"type": ["number", "null"]}
      }
    },
    "narrative": {
      "type": "string",
      "minLength": 1
    }
  }
}`

var decisionSchema = mustCompileSchema(decisionSchemaJSON)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.json", strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("add decision schema: %v", err))
	}
	return compiler.MustCompile("decision.json")
}

// DecisionSchema returns a fresh copy of the decision schema as a JSON object.
func DecisionSchema() map[string]any {
	var schema map[string]any
	if err := json.Unmarshal([]byte(decisionSchemaJSON), &schema); err != nil {
		panic(fmt.Sprintf("decode decision schema: %v", err))
	}
	return schema
}

// ValidateDecisionJSON checks content against the decision schema and decodes it.
func ValidateDecisionJSON(content string) (decision.StructuredRaw, error) {
	var doc any
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return decision.StructuredRaw{}, fmt.Errorf("%w: response is not JSON: %v", ErrContractViolation, err)
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return decision.StructuredRaw{}, fmt.Errorf("%w: %v", ErrContractViolation, err)
	}

	var raw decision.StructuredRaw
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return decision.StructuredRaw{}, fmt.Errorf("%w: decode: %v", ErrContractViolation, err)
	}
	return raw, nil
}
