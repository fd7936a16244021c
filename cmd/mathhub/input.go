package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mathhub/mathhub/internal/bbox"
)

// readInput reads path, or stdin when path is "" or "-".
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readJSONObject reads a JSON object from path. An empty path yields nil.
func readJSONObject(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%s is not a JSON object: %w", path, err)
	}
	return obj, nil
}

// parseBBoxFlag accepts any bbox encoding as JSON, e.g. '{"x1":10,...}' or
// '{"x":10,"y":20,"width":290,"height":380}', plus a flat [x1,y1,x2,y2] list.
func parseBBoxFlag(s string) (*bbox.BBox, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var raw any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("invalid bbox %q: %w", s, err)
	}
	if flat, ok := raw.([]any); ok && len(flat) == 4 {
		if _, nested := flat[0].([]any); !nested {
			raw = map[string]any{"x1": flat[0], "y1": flat[1], "x2": flat[2], "y2": flat[3]}
		}
	}
	b, ok := bbox.Parse(raw)
	if !ok {
		return nil, fmt.Errorf("invalid bbox %q", s)
	}
	return &b, nil
}
