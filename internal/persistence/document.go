// Package persistence saves and loads step documents as JSON or YAML.
package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"macroctl/internal/step"
)

// FormatVersion is written into every exported document.
const FormatVersion = "1.0"

// Document is the persisted file format.
type Document struct {
	Version   string      `json:"version,omitempty" yaml:"version,omitempty"`
	Timestamp string      `json:"timestamp,omitempty" yaml:"timestamp,omitempty" jsonschema:"format=date-time"`
	Steps     []step.Step `json:"steps" yaml:"steps"`
}

// NewDocument wraps steps for export.
func NewDocument(steps []step.Step, now time.Time) Document {
	if steps == nil {
		steps = []step.Step{}
	}
	return Document{
		Version:   FormatVersion,
		Timestamp: now.UTC().Format(time.RFC3339),
		Steps:     steps,
	}
}

// Format is a document encoding.
type Format int

const (
	JSON Format = iota
	YAML
)

func (f Format) String() string {
	if f == YAML {
		return "yaml"
	}
	return "json"
}

// FormatFromPath picks the encoding from the file extension. Anything
// other than .yaml or .yml is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	default:
		return JSON
	}
}

// Encode writes doc to w.
func Encode(w io.Writer, doc Document, f Format) error {
	if f == YAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// Decode parses and validates a document. Errors wrap ErrMissingSteps or
// ErrInvalidDocument.
func Decode(data []byte, f Format) (Document, error) {
	generic, err := parseGeneric(data, f)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return Document{}, fmt.Errorf("%w: top level must be an object", ErrInvalidDocument)
	}
	steps, ok := obj["steps"]
	if !ok || steps == nil {
		return Document{}, ErrMissingSteps
	}
	if _, ok := steps.([]any); !ok {
		return Document{}, fmt.Errorf("%w: steps must be an array", ErrInvalidDocument)
	}

	if err := validateSchema(obj); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	// Re-encode through JSON so both formats share one decoding path.
	canonical, err := json.Marshal(obj)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var doc Document
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := step.ValidateAll(doc.Steps); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

func parseGeneric(data []byte, f Format) (any, error) {
	var v any
	if f == YAML {
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return normalizeYAML(v), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// normalizeYAML turns yaml.v3 values into the shapes encoding/json
// produces so the schema validator sees the same tree for both formats.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case int:
		return json.Number(fmt.Sprint(t))
	case int64:
		return json.Number(fmt.Sprint(t))
	case uint64:
		return json.Number(fmt.Sprint(t))
	case float64:
		return json.Number(fmt.Sprint(t))
	default:
		return v
	}
}

// Export writes steps to path, choosing the format from the extension.
func Export(path string, steps []step.Step, now time.Time) error {
	var buf bytes.Buffer
	if err := Encode(&buf, NewDocument(steps, now), FormatFromPath(path)); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Import reads and validates the document at path. Failures are returned
// as *ImportError.
func Import(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, &ImportError{Path: path, Err: err}
	}
	doc, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return Document{}, &ImportError{Path: path, Err: err}
	}
	return doc, nil
}
