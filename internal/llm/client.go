// Package llm is the narrow contract against the completion service:
// structured prompt in, structured JSON out, bounded by a request timeout.
// The pipeline never depends on model identity, cost accounting, or
// streaming.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is one completion call. Schema is a raw JSON schema describing the
// expected response object; providers that cannot enforce it server-side get
// it appended to the prompt instead.
type Request struct {
	System      string
	Prompt      string
	Schema      map[string]any
	Temperature float64
}

// Client is the completion service interface consumed by every stage.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// schemaInstruction renders the schema block appended to prompts for
// providers without strict schema enforcement.
func schemaInstruction(schema map[string]any) string {
	if len(schema) == 0 {
		return ""
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("\n\nRespond with a single JSON object matching this schema, and nothing else:\n%s", raw)
}

// Decode unmarshals a completion response into v, tolerating markdown code
// fences and prose around the JSON object.
func Decode(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON object in completion response")
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return fmt.Errorf("unterminated JSON object in completion response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to decode completion response: %w", err)
	}
	return nil
}
