package command

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workspace = `
tables:
  - name: Tasks
    fields:
      - name: Title
        type: text
        primary: true
      - name: Hours
        type: number places=1
      - name: Cost
        formula: {op: "*", left: {field: Hours}, right: {number: "50"}}
      - name: Total
        formula: {op: "+", left: {field: Cost}, right: {number: "1"}}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeWorkspace(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCheck(t *testing.T) {
	ws := writeWorkspace(t, workspace)
	out, err := run(t, "check", "-w", ws, "--catalogs", "")
	require.NoError(t, err)
	assert.Contains(t, out, "OK Tasks.Cost:")
	assert.Contains(t, out, "OK Tasks.Total:")
}

func TestCheckReportsErrors(t *testing.T) {
	ws := writeWorkspace(t, workspace+`
      - name: Broken
        formula: {field: Missing}
`)
	out, err := run(t, "check", "-w", ws, "--catalogs", "")
	require.ErrorIs(t, err, errFormulaErrors)
	assert.Contains(t, out, "ERROR Tasks.Broken:")
}

func TestGraph(t *testing.T) {
	ws := writeWorkspace(t, workspace)
	out, err := run(t, "graph", "-w", ws, "--catalogs", "")
	require.NoError(t, err)
	assert.Contains(t, out, "Tasks.Cost -> Tasks.Hours")
	assert.Contains(t, out, "Tasks.Total -> Tasks.Cost")
}

func TestCompile(t *testing.T) {
	ws := writeWorkspace(t, workspace)

	plain, err := run(t, "compile", "-w", ws, "--catalogs", "", "--field", "Tasks.Total")
	require.NoError(t, err)
	inlined, err := run(t, "compile", "-w", ws, "--catalogs", "", "--field", "Tasks.Total", "--inline")
	require.NoError(t, err)
	assert.NotEqual(t, plain, inlined)

	_, err = run(t, "compile", "-w", ws, "--catalogs", "", "--field", "Total")
	assert.Error(t, err)
	_, err = run(t, "compile", "-w", ws, "--catalogs", "", "--field", "Tasks.Title")
	assert.Error(t, err)
}

func TestDDL(t *testing.T) {
	ws := writeWorkspace(t, workspace)
	out, err := run(t, "ddl", "-w", ws, "--catalogs", "")
	require.NoError(t, err)
	assert.Contains(t, out, "-- 000_engine_tables")
	assert.Contains(t, out, "create table if not exists")
}

func TestStateFilePersists(t *testing.T) {
	ws := writeWorkspace(t, workspace)
	state := filepath.Join(t.TempDir(), "state.json")

	_, err := run(t, "check", "-w", ws, "--catalogs", "", "--state", state)
	require.NoError(t, err)

	// без рабочей области схема читается из файла состояния
	out, err := run(t, "graph", "-w", "", "--catalogs", "", "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "Tasks.Total -> Tasks.Cost")
}

func TestMigrateRequiresDB(t *testing.T) {
	_, err := run(t, "migrate", "-w", "")
	assert.Error(t, err)
}
