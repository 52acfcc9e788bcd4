package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// schemaInstruction builds the prompt suffix used to emulate structured
// output on providers without a native response_format parameter.
func schemaInstruction(schema json.RawMessage) string {
	var b strings.Builder
	b.WriteString("\n\nRespond with a single JSON object matching this JSON Schema. ")
	b.WriteString("Output only the JSON object, with no surrounding prose or markdown fences.\n\n")
	b.Write(schema)
	return b.String()
}

// extractJSON strips markdown fences and surrounding prose, then verifies
// the remainder is a JSON object or array. A failure here is a format
// error: the model did not honor the schema.
func extractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)

	// Fenced block first.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	// Trim prose before the first brace/bracket and after the last.
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", &ProviderError{Type: ErrorTypeFormat, Err: fmt.Errorf("model output is not valid JSON: no object found")}
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return "", &ProviderError{Type: ErrorTypeFormat, Err: fmt.Errorf("model output is not valid JSON: unterminated object")}
	}
	s = s[start : end+1]

	if !json.Valid([]byte(s)) {
		return "", &ProviderError{Type: ErrorTypeFormat, Err: fmt.Errorf("model output is not valid JSON")}
	}
	return s, nil
}
