package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/screentime/internal/testutil"
)

func TestParseScenario_HandleForms(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: forms
description: "both handle forms"
steps:
  - do: select
    category: Learning
    handles:
      - Books
      - { opaque: raw-bytes, label: News }
      - { external_id: ext-1 }
`))
	require.NoError(t, err)

	handles := s.Steps[0].Handles
	require.Len(t, handles, 3)
	assert.Equal(t, testutil.Handle("Books"), handles[0].Handle())
	assert.Equal(t, "Books", handles[0].Key())
	assert.Equal(t, []byte("raw-bytes"), handles[1].Handle().Opaque)
	assert.Equal(t, "News", handles[1].Key())
	assert.Equal(t, "ext-1", handles[2].Key())
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\nsteps: [{do: cancel}]", "name is required"},
		{"missing description", "name: n\nsteps: [{do: cancel}]", "description is required"},
		{"no steps", "name: n\ndescription: d", "steps list is required"},
		{"unknown field", "name: n\ndescription: d\nstep: []", "field step not found"},
		{"unknown op", "name: n\ndescription: d\nsteps: [{do: launch}]", `unknown step "launch"`},
		{"bad category", "name: n\ndescription: d\nsteps: [{do: select, category: games}]", "unknown category"},
		{"remove without id", "name: n\ndescription: d\nsteps: [{do: remove}]", "id is required"},
		{"usage without seconds", "name: n\ndescription: d\nsteps: [{do: usage, handle: Books}]", "seconds must be positive"},
		{"bad picker error", "name: n\ndescription: d\nsteps: [{do: select, category: reward, picker_errors: [crash]}]", "unknown picker error"},
		{"error and outcome", "name: n\ndescription: d\nsteps: [{do: verify, expect: {error: X, outcome: ok}}]", "mutually exclusive"},
		{"bad assertion", "name: n\ndescription: d\nsteps: [{do: cancel}]\nassertions: [{type: vibes}]", "unknown assertion type"},
		{"snapshot without category", "name: n\ndescription: d\nsteps: [{do: cancel}]\nassertions: [{type: snapshot}]", "unknown category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_second.yaml", "a_first.yml", "notes.txt", "nested/c_third.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a_first.yml"),
		filepath.Join(dir, "b_second.yaml"),
		filepath.Join(dir, "nested/c_third.yaml"),
	}, files)

	files, err = FindScenarios(dir, "b_*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b_second.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	assert.Error(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
