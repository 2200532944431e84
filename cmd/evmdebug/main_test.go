package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/evmdebug/internal/trace/fixture"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeTrace(t *testing.T, txHash string, tr *fixture.Trace) string {
	t.Helper()
	dir := t.TempDir()
	data, err := json.Marshal(tr)
	require.NoError(t, err)
	path := filepath.Join(dir, fixture.TraceDir, txHash+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return dir
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "evmdebug "+version)
}

func TestReplayStepsToEnd(t *testing.T) {
	cwd := writeTrace(t, "0xabc", fixture.Counter())

	out, err := executeCommand(t, "--engine", "fixture", "--log-level", "crit", "replay", "0xabc", "--cwd", cwd)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, "output:\n%s", out)
	assert.True(t, strings.HasPrefix(lines[0], "entry"), lines[0])
	assert.Contains(t, lines[0], "Counter.sol:5")
	for _, l := range lines[1:4] {
		assert.True(t, strings.HasPrefix(l, "step-over"), l)
	}
	assert.Equal(t, "terminated", lines[4])
}

func TestReplayBreakpointAndMax(t *testing.T) {
	cwd := writeTrace(t, "0xabc", fixture.Counter())

	out, err := executeCommand(t, "--engine", "fixture", "--log-level", "crit",
		"replay", "0xabc", "--cwd", cwd,
		"--stop-on-entry=false", "--break", fixture.MathLibPath+":4",
		"--step", "continue", "--max", "1", "--vars")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "breakpoint"), out)
	assert.Contains(t, out, "MathLib.sol:4")
	assert.Contains(t, out, "storage = Object")
	assert.NotContains(t, out, "terminated")
}

func TestReplayDemo(t *testing.T) {
	out, err := executeCommand(t, "--log-level", "crit", "replay", "--demo", "--step", "into")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7, "output:\n%s", out)
	assert.Contains(t, lines[0], "Counter.sol:5")
	assert.Contains(t, lines[2], "MathLib.sol:3")
	assert.Equal(t, "terminated", lines[6])
}

func TestReplayNeedsHashWithoutDemo(t *testing.T) {
	_, err := executeCommand(t, "--log-level", "crit", "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--demo")
}

func TestReplayRejectsBadStep(t *testing.T) {
	_, err := executeCommand(t, "--engine", "fixture", "replay", "0xabc", "--step", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestUnknownEngine(t *testing.T) {
	_, err := executeCommand(t, "--engine", "nope", "--log-level", "crit", "replay", "0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestParseBreakpoint(t *testing.T) {
	tests := []struct {
		spec string
		path string
		line int
		ok   bool
	}{
		{"contracts/Counter.sol:12", "contracts/Counter.sol", 12, true},
		{`C:\work\Counter.sol:3`, `C:\work\Counter.sol`, 3, true},
		{"Counter.sol", "", 0, false},
		{"Counter.sol:0", "", 0, false},
		{":4", "", 0, false},
	}
	for _, tt := range tests {
		path, line, err := parseBreakpoint(tt.spec)
		if !tt.ok {
			assert.Error(t, err, tt.spec)
			continue
		}
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.path, path)
		assert.Equal(t, tt.line, line)
	}
}
