package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../../testdata/scenarios"

func TestScenarios(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "file name and scenario name must agree")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenariosDir, "move_between_categories.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := GoldenJSON(scenario.Name, first)
	require.NoError(t, err)
	b, err := GoldenJSON(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_UnmetExpectationFails(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: "expects a conflict that does not happen"
steps:
  - do: select
    category: learning
    handles: [Books]
  - do: commit
    category: learning
    expect: { error: CONFLICT }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected CONFLICT, got ok")
}

func TestRun_UncodedPickerError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: denied
description: "a permanent picker failure is not retried"
steps:
  - do: select
    category: reward
    handles: [Clash]
    picker_errors: [denied]
    expect: { error: error }
  - do: select
    category: reward
    handles: [Clash]
    expect: { pending: 1 }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Trace[0].Detail, "picker access denied")
}

func TestRun_UnknownOverrideIsHarnessError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_override
description: "overrides must name a selected handle"
steps:
  - do: select
    category: learning
    handles: [Books]
  - do: commit
    category: learning
    moves: [Clash]
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (commit)")
}

func TestRun_ExternalHandles(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: external
description: "an external identifier becomes the logical id"
steps:
  - do: select
    category: learning
    handles:
      - { external_id: com.example.books, opaque: books-token, label: Books }
  - do: commit
    category: learning
  - do: usage
    handle: { external_id: com.example.books, opaque: books-token }
    seconds: 60
assertions:
  - type: snapshot
    category: learning
    rows:
      - { id: com.example.books, label: Books, seconds: 60, points: 10 }
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
