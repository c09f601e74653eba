package persistence

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroctl/internal/step"
)

var fixedNow = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

func sampleSteps() []step.Step {
	return []step.Step{
		{ID: "m1", Type: step.TypeMouseMove, Data: step.Data{X: step.Int(10), Y: step.Int(20), WaitTime: step.Float(1)}},
		{ID: "g1", Type: step.TypeGroup, Data: step.Data{
			GroupName:      "clicks",
			GroupLoopCount: 3,
			GroupSteps: []step.Step{
				{ID: "c1", Type: step.TypeMouseClick, Data: step.Data{Button: step.ButtonLeft}},
				{ID: "k1", Type: step.TypeKeyPress, Data: step.Data{Key: "ctrl+c", IsShortcut: true}},
			},
		}},
	}
}

func TestExportImportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, Export(path, sampleSteps(), fixedNow))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var probe map[string]any
	require.NoError(t, json.Unmarshal(raw, &probe))
	assert.Equal(t, FormatVersion, probe["version"])
	assert.Equal(t, "2026-03-01T12:30:00Z", probe["timestamp"])

	doc, err := Import(path)
	require.NoError(t, err)
	assert.Equal(t, sampleSteps(), doc.Steps)
}

func TestExportImportYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "steps.yaml")
	require.NoError(t, Export(path, sampleSteps(), fixedNow))

	doc, err := Import(path)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, doc.Version)
	assert.Equal(t, sampleSteps(), doc.Steps)
}

func TestExportEmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, NewDocument(nil, fixedNow), JSON))
	assert.Contains(t, buf.String(), `"steps": []`)

	doc, err := Decode(buf.Bytes(), JSON)
	require.NoError(t, err)
	assert.Empty(t, doc.Steps)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		format  Format
		wantErr error
	}{
		{"not json", `{"steps": [`, JSON, ErrInvalidDocument},
		{"array top level", `[]`, JSON, ErrInvalidDocument},
		{"missing steps", `{"version":"1.0"}`, JSON, ErrMissingSteps},
		{"null steps", `{"steps":null}`, JSON, ErrMissingSteps},
		{"steps object", `{"steps":{"id":"a"}}`, JSON, ErrInvalidDocument},
		{"step without id", `{"steps":[{"type":"wait","data":{}}]}`, JSON, ErrInvalidDocument},
		{"unknown type", `{"steps":[{"id":"a","type":"teleport","data":{}}]}`, JSON, ErrInvalidDocument},
		{"negative wait", `{"steps":[{"id":"a","type":"wait","data":{"wait_time":-1}}]}`, JSON, ErrInvalidDocument},
		{"duplicate ids", `{"steps":[{"id":"a","type":"wait","data":{}},{"id":"a","type":"wait","data":{}}]}`, JSON, ErrInvalidDocument},
		{"yaml missing steps", "version: \"1.0\"\n", YAML, ErrMissingSteps},
		{"yaml scalar", "just text\n", YAML, ErrInvalidDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data), tt.format)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeToleratesExtraFields(t *testing.T) {
	doc, err := Decode([]byte(`{"steps":[{"id":"a","type":"wait","data":{"wait_time":2,"note":"x"}}],"app":"other"}`), JSON)
	require.NoError(t, err)
	require.Len(t, doc.Steps, 1)
	assert.Equal(t, 2.0, doc.Steps[0].Data.Wait())
}

func TestImportErrorCarriesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nope":true}`), 0o644))

	_, err := Import(path)
	var ierr *ImportError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, path, ierr.Path)
	assert.ErrorIs(t, err, ErrMissingSteps)
	assert.Contains(t, err.Error(), "bad.json")

	_, err = Import(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSchema(t *testing.T) {
	raw, err := Schema()
	require.NoError(t, err)

	var s map[string]any
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, schemaID, s["$id"])
	assert.Contains(t, string(raw), "groupSteps")
	assert.Contains(t, string(raw), "mouse_double_click")
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, YAML, FormatFromPath("a/b.YML"))
	assert.Equal(t, YAML, FormatFromPath("x.yaml"))
	assert.Equal(t, JSON, FormatFromPath("x.json"))
	assert.Equal(t, JSON, FormatFromPath("noext"))
	assert.Equal(t, "yaml", YAML.String())
}
