package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema used to check model output locally.
type Schema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// CompileSchema compiles raw, unwrapping the {"schema": ...} and
// {"json_schema": {"schema": ...}} envelopes used by response formats.
func CompileSchema(raw json.RawMessage) (*Schema, error) {
	core, err := extractValidationSchema(raw)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load structured schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile structured schema: %w", err)
	}
	return &Schema{raw: core, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(raw string) *Schema {
	s, err := CompileSchema(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the unwrapped schema document.
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Validate checks parsed JSON against the schema.
func (s *Schema) Validate(parsed json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(parsed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

// DecodeObject parses model output into a JSON object and, when schema is
// non-nil, validates it first.
func DecodeObject(content string, schema *Schema) (map[string]any, error) {
	parsed, err := ParseStructuredJSON(content)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		if err := schema.Validate(parsed); err != nil {
			return nil, err
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(parsed, &obj); err != nil {
		return nil, fmt.Errorf("structured output is not an object: %w", err)
	}
	return obj, nil
}

// ParseStructuredJSON parses JSON from model output, recovering from
// markdown code fences and surrounding prose.
func ParseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	for _, candidate := range candidates {
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}
	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractJSONCandidate returns the span from the first '{' or '[' to the
// last matching closer.
func extractJSONCandidate(content string) string {
	objectStart := strings.Index(content, "{")
	arrayStart := strings.Index(content, "[")

	start, closer := -1, ""
	switch {
	case objectStart >= 0 && (arrayStart < 0 || objectStart < arrayStart):
		start, closer = objectStart, "}"
	case arrayStart >= 0:
		start, closer = arrayStart, "]"
	default:
		return ""
	}

	end := strings.LastIndex(content, closer)
	if end < start {
		return ""
	}
	return strings.TrimSpace(content[start : end+1])
}

func extractValidationSchema(schemaRaw json.RawMessage) (json.RawMessage, error) {
	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("invalid structured schema JSON: %w", err)
	}

	if rootMap, ok := root.(map[string]any); ok {
		if inner, ok := rootMap["schema"]; ok {
			return json.Marshal(inner)
		}
		if wrapped, ok := rootMap["json_schema"].(map[string]any); ok {
			if inner, ok := wrapped["schema"]; ok {
				return json.Marshal(inner)
			}
		}
	}
	return schemaRaw, nil
}
