// Package output renders command results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format specifies the output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value. An empty value means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q (valid: text, json, yaml)", s)
	}
}

// Formatter writes results in one format.
type Formatter struct {
	Format Format
	W      io.Writer
}

// New creates a Formatter.
func New(w io.Writer, format Format) *Formatter {
	if format == "" {
		format = FormatText
	}
	return &Formatter{Format: format, W: w}
}

// IsJSON reports whether the formatter emits JSON.
func (f *Formatter) IsJSON() bool {
	return f.Format == FormatJSON
}

// IsStructured reports whether the formatter emits JSON or YAML.
func (f *Formatter) IsStructured() bool {
	return f.Format == FormatJSON || f.Format == FormatYAML
}

// Output writes data as JSON or YAML, or calls text for text output.
func (f *Formatter) Output(data any, text func(w io.Writer) error) error {
	switch f.Format {
	case FormatJSON:
		return WriteJSON(f.W, data, true)
	case FormatYAML:
		return WriteYAML(f.W, data)
	default:
		return text(f.W)
	}
}

// WriteJSON encodes v as JSON, indented when pretty is set.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// WriteYAML encodes v as YAML with two-space indentation.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
