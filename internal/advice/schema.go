package advice

import (
	"encoding/json"
	"fmt"
)

// Schema constrains the structured advice reply.
var Schema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "response_type": {
      "type": "string",
      "enum": ["complete", "needs_context", "continue"]
    },
    "response": {
      "type": "string",
      "description": "The advice text shown to the user"
    },
    "context_needed": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "type": {
            "type": "string",
            "enum": ["code", "library", "environment", "error", "requirements", "other"]
          },
          "description": {"type": "string"}
        },
        "required": ["type", "description"],
        "additionalProperties": false
      }
    },
    "questions": {
      "type": "array",
      "items": {"type": "string"}
    },
    "confidence": {
      "type": "number",
      "minimum": 0,
      "maximum": 1
    }
  },
  "required": ["response_type", "response"],
  "additionalProperties": false
}`)

// ContextItem is one piece of missing context the model asked for.
type ContextItem struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// StructuredReply is the parsed schema-constrained advice response.
type StructuredReply struct {
	ResponseType  string        `json:"response_type"`
	Response      string        `json:"response"`
	ContextNeeded []ContextItem `json:"context_needed,omitempty"`
	Questions     []string      `json:"questions,omitempty"`
	Confidence    *float64      `json:"confidence,omitempty"`
}

// parseStructuredReply decodes a structured advice response and checks
// the fields the schema requires.
func parseStructuredReply(text string) (*StructuredReply, error) {
	var reply StructuredReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("advice: decode structured reply: %w", err)
	}
	if reply.Response == "" {
		return nil, fmt.Errorf("advice: structured reply missing response field")
	}
	switch reply.ResponseType {
	case "complete", "needs_context", "continue":
	default:
		return nil, fmt.Errorf("advice: unexpected response_type %q", reply.ResponseType)
	}
	return &reply, nil
}
