// Package output renders command results as YAML or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format defines the output format for CLI commands.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Default is the default output format.
var Default Format = FormatYAML

// current is set by the root command's --output flag.
var current Format = FormatYAML

// ParseFormat returns the format named by s.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml", "":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// SetFormat sets the global output format. Unknown names select Default.
func SetFormat(format string) {
	f, err := ParseFormat(format)
	if err != nil {
		f = Default
	}
	current = f
}

// CurrentFormat returns the current global output format.
func CurrentFormat() Format {
	return current
}

// Write writes data to stdout in the configured format.
func Write(data any) error {
	return WriteTo(os.Stdout, current, data)
}

// WriteTo writes data to the given writer in the specified format.
func WriteTo(w io.Writer, format Format, data any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(data)
	case FormatYAML:
		node, err := toNode(data)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(node)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// toNode converts data to a YAML node through its JSON encoding, so both
// formats share json tag names and field order.
func toNode(data any) (*yaml.Node, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return nil, fmt.Errorf("failed to convert output: %w", err)
	}
	plainStyle(&node)
	return &node, nil
}

// plainStyle drops the flow and quoting styles inherited from JSON.
func plainStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plainStyle(c)
	}
}
