package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "testdata/scenarios"

func runScenarioCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewScenarioCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"run"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

// copyScenarios copies the scenario fixtures, with their policy bundle,
// into a temp tree so tests can rewrite golden files.
func copyScenarios(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range []string{
		"scenarios/retail_sale.yaml",
		"scenarios/status_hierarchy.yaml",
		"scenarios/golden/retail_sale.golden",
		"policies/retail.cue",
	} {
		data, err := os.ReadFile(filepath.Join("testdata", rel))
		require.NoError(t, err)
		dst := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
		require.NoError(t, os.WriteFile(dst, data, 0644))
	}
	return filepath.Join(root, "scenarios")
}

func TestScenarioRunMissingArgs(t *testing.T) {
	_, err := runScenarioCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestScenarioRunNonExistentDir(t *testing.T) {
	_, err := runScenarioCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestScenarioRunEmptyDir(t *testing.T) {
	out, err := runScenarioCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestScenarioRunEmptyDirJSON(t *testing.T) {
	out, err := runScenarioCommand(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestScenarioRunAllPass(t *testing.T) {
	out, err := runScenarioCommand(t, "text", scenariosDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ retail_sale")
	assert.Contains(t, out, "✓ status_hierarchy")
	assert.Contains(t, out, "Scenario Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestScenarioRunJSON(t *testing.T) {
	out, err := runScenarioCommand(t, "json", scenariosDir)
	require.NoError(t, err, out)

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "retail_sale", resp.Data.Scenarios[0].Name)
}

func TestScenarioRunFilter(t *testing.T) {
	out, err := runScenarioCommand(t, "text", scenariosDir, "--filter", "status_*")
	require.NoError(t, err)

	assert.Contains(t, out, "status_hierarchy")
	assert.NotContains(t, out, "retail_sale")
	assert.Contains(t, out, "1 total")
}

func TestScenarioRunInvalidFilter(t *testing.T) {
	_, err := runScenarioCommand(t, "text", scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestScenarioRunGoldenMismatch(t *testing.T) {
	dir := copyScenarios(t)
	golden := filepath.Join(dir, "golden", "retail_sale.golden")
	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"retail_sale","trace":[]}`), 0644))

	out, err := runScenarioCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ retail_sale")
	assert.Contains(t, out, "trace does not match golden file")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestScenarioRunUpdateGolden(t *testing.T) {
	dir := copyScenarios(t)
	want, err := os.ReadFile(filepath.Join(dir, "golden", "retail_sale.golden"))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "golden")))

	out, err := runScenarioCommand(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ retail_sale (golden updated)")

	got, err := os.ReadFile(filepath.Join(dir, "golden", "retail_sale.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	_, err = os.Stat(filepath.Join(dir, "golden", "status_hierarchy.golden"))
	require.NoError(t, err)

	out, err = runScenarioCommand(t, "text", dir)
	require.NoError(t, err, out)
}

func TestScenarioRunFailedAssertion(t *testing.T) {
	dir := copyScenarios(t)
	path := filepath.Join(dir, "status_hierarchy.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), "type: integrity_clean", "type: trace_count\n    count: 99", 1)), 0644))

	out, err := runScenarioCommand(t, "json", dir, "--filter", "status_*")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "Assertion failed: trace_count")
}

func TestScenarioRunLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unterminated"), 0644))

	out, err := runScenarioCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFilesSkipsGolden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "c.yaml"), nil, 0644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("s", "golden", "retail_sale.golden"), goldenFilePath(filepath.Join("s", "retail_sale.yaml")))
}
