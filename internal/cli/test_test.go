package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioYAML = `name: two_clients
description: Two clients dispatch once each and converge on the sum.
steps:
  - join: c1
  - join: c2
  - dispatch: {client: c1, action: {type: increment}}
  - dispatch: {client: c2, action: {type: add, amount: 4}}
  - settle: true
assertions:
  - type: converged
  - type: state
    client: c1
    equals: 5
`

func writeScenario(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, NewTestCommand(testRootOptions("text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := execute(t, NewTestCommand(testRootOptions("text")), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRootOptions("text")), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRootOptions("json")), t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommand_RepoScenario(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRootOptions("text")),
		filepath.Join("..", "harness", "testdata", "scenarios"), "--filter", "scenario_a")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ scenario_a")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	writeScenario(t, scenarios, "two_clients.yaml", scenarioYAML)

	out, err := execute(t, NewTestCommand(testRootOptions("text")), scenarios, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	golden, err := os.ReadFile(filepath.Join(root, "golden", "two_clients.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"two_clients"`)

	out, err = execute(t, NewTestCommand(testRootOptions("text")), scenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ two_clients")
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	goldenDir := filepath.Join(root, "expected")
	writeScenario(t, scenarios, "two_clients.yaml", scenarioYAML)
	require.NoError(t, os.MkdirAll(goldenDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "two_clients.golden"), []byte(`{"trace":[]}`), 0o644))

	out, err := execute(t, NewTestCommand(testRootOptions("json")), scenarios, "--golden", goldenDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	assert.Equal(t, 1, response.Data.Failed)
	require.Len(t, response.Data.Scenarios, 1)
	assert.Contains(t, response.Data.Scenarios[0].Errors[0], "does not match golden")
	assert.Equal(t, "E_TEST_FAILED", response.Error.Code)
}

func TestTestCommand_FailedAssertion(t *testing.T) {
	scenarios := t.TempDir()
	writeScenario(t, scenarios, "wrong.yaml", `name: wrong
description: Asserts a state the dispatched actions never reach.
steps:
  - join: c1
  - dispatch: {client: c1, action: {type: increment}}
  - settle: true
assertions:
  - type: state
    client: c1
    equals: 2
`)

	out, err := execute(t, NewTestCommand(testRootOptions("text")), scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.NotContains(t, out, "failed to load scenario")
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	scenarios := t.TempDir()
	writeScenario(t, scenarios, "broken.yaml", "name: broken\nsteps:\n  - explode: true\n")

	out, err := execute(t, NewTestCommand(testRootOptions("text")), scenarios)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestHelpText(t *testing.T) {
	out, err := execute(t, NewTestCommand(testRootOptions("text")), "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "convergence")
	assert.Contains(t, out, "--update")
	assert.Contains(t, out, "--filter")
	assert.Contains(t, out, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "gap-a.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "gap-b.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "late.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "gap-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(tmpDir, "[")
	assert.Error(t, err)
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("testdata", "golden"), defaultGoldenDir(filepath.Join("testdata", "scenarios")))
	assert.Equal(t, filepath.Join("testdata", "golden"), defaultGoldenDir(filepath.Join("testdata", "scenarios")+"/"))
	assert.Equal(t, filepath.Join("g", "late_join.golden"), goldenFilePath("g", "late_join"))
}
