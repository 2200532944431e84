package fixture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/evmdebug/internal/trace"
)

func TestSessionStepping(t *testing.T) {
	s := NewSession(Counter())

	loc := s.CurrentLocation()
	assert.Equal(t, trace.Location{SourceID: 0, File: CounterPath, Line: 5, Column: 5}, loc)

	s.StepNext()
	assert.Equal(t, 6, s.CurrentLocation().Line)

	s.StepInto()
	loc = s.CurrentLocation()
	assert.Equal(t, MathLibPath, loc.File)
	assert.Equal(t, 3, loc.Line)

	stack := s.CallStack()
	require.Len(t, stack, 2)
	assert.Equal(t, CounterAddress, stack[0].Address)
	assert.Equal(t, "MathLib", stack[1].ContractName)

	s.StepOut()
	assert.Equal(t, 7, s.CurrentLocation().Line)

	in, ok := s.CurrentInstruction()
	require.True(t, ok)
	assert.Equal(t, "DUP1", in.Op)

	s.StepNext()
	s.StepNext()
	assert.True(t, s.Finished())
}

func TestSessionBreakpoints(t *testing.T) {
	s := NewSession(Counter())

	require.NoError(t, s.AddBreakpoint(trace.Breakpoint{SourceID: 1, Line: 4}))
	assert.Error(t, s.AddBreakpoint(trace.Breakpoint{SourceID: 7, Line: 1}))

	h := s.ContinueUntilBreakpoint()
	assert.Equal(t, trace.HaltBreakpoint, h.Reason)
	assert.Equal(t, 4, s.CurrentLocation().Line)

	s.RemoveAllBreakpoints()
	h = s.ContinueUntilBreakpoint()
	assert.Equal(t, trace.HaltEnd, h.Reason)
	assert.True(t, s.Finished())
}

func TestSessionVariables(t *testing.T) {
	s := NewSession(Counter())
	s.StepInto()
	s.StepInto()

	vars, err := s.Variables()
	require.NoError(t, err)
	assert.Contains(t, vars, "args")

	require.NoError(t, s.Close())
	_, err = s.Variables()
	assert.Error(t, err)
}

func TestSessionContracts(t *testing.T) {
	s := NewSession(Counter())

	contracts := s.Contracts()
	require.Len(t, contracts, 2)
	assert.Equal(t, CounterAddress, contracts[0].Address)
	assert.Empty(t, contracts[1].Address)
	assert.Len(t, s.Sources(), 2)
	assert.Len(t, s.Instructions(), 6)
}

func TestRecordThenAttach(t *testing.T) {
	data, err := Record(NewSession(Counter()), "0xABC", 0)
	require.NoError(t, err)

	doc := gjson.ParseBytes(data)
	assert.Equal(t, "0xABC", doc.Get("txHash").String())
	assert.Equal(t, int64(6), doc.Get("steps.#").Int())
	assert.Equal(t, "MathLib", doc.Get("steps.2.callStack.1.contractName").String())
	assert.Equal(t, int64(1), doc.Get("steps.2.depth").Int())
	assert.Equal(t, "2", doc.Get("steps.5.variables.storage.count").Raw)

	wd := t.TempDir()
	dir := filepath.Join(wd, TraceDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0xabc.json"), data, 0o644))

	e, err := NewEngine(trace.Config{})
	require.NoError(t, err)

	// falls back to the lower-cased hash
	s, err := e.Attach(context.Background(), "0xABC", trace.AttachOptions{WorkingDirectory: wd})
	require.NoError(t, err)
	defer s.Close()

	var lines []int
	for !s.Finished() {
		lines = append(lines, s.CurrentLocation().Line)
		s.StepInto()
	}
	assert.Equal(t, []int{5, 6, 3, 4, 7, 8}, lines)
}

// internalCall is Counter.sol jumping to an internal function at line 20
// from line 6. The call stack keeps one frame, only the depth changes.
func internalCall() *Trace {
	counter := []Frame{{Address: CounterAddress, StorageAddress: CounterAddress}}
	return &Trace{
		TxHash:  "0xabc",
		Sources: []SourceFile{{ID: 0, Path: CounterPath}},
		Steps: []Step{
			{SourceID: 0, Line: 5, CallStack: counter},
			{SourceID: 0, Line: 6, CallStack: counter},
			{SourceID: 0, Line: 20, Depth: 1, CallStack: counter},
			{SourceID: 0, Line: 7, CallStack: counter, Fault: "execution reverted"},
		},
	}
}

func TestRecordKeepsLogicalDepth(t *testing.T) {
	live := NewSession(internalCall())
	live.StepNext()
	live.StepNext()
	require.Equal(t, 7, live.CurrentLocation().Line)

	data, err := Record(NewSession(internalCall()), "0xabc", 0)
	require.NoError(t, err)
	tr, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, tr.Steps, 4)
	assert.Equal(t, []int{0, 0, 1, 0}, []int{tr.Steps[0].Depth, tr.Steps[1].Depth, tr.Steps[2].Depth, tr.Steps[3].Depth})
	assert.Equal(t, "execution reverted", tr.Steps[3].Fault)

	replayed := NewSession(tr)
	replayed.StepNext()
	require.Equal(t, 6, replayed.CurrentLocation().Line)
	replayed.StepNext()
	assert.Equal(t, 7, replayed.CurrentLocation().Line)
	assert.Equal(t, 0, replayed.CurrentStep().Depth)
}

func TestRecordMaxSteps(t *testing.T) {
	data, err := Record(NewSession(Counter()), "0x1", 2)
	require.NoError(t, err)

	tr, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, tr.Steps, 2)
	assert.Equal(t, json.Number("1"), tr.Steps[0].Variables["storage"].(map[string]any)["count"])
}

func TestAttachMissingTrace(t *testing.T) {
	e := &Engine{Dir: t.TempDir()}
	_, err := e.Attach(context.Background(), "0xdead", trace.AttachOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`{"steps": 3}`))
	assert.Error(t, err)
}

func TestStaticEngine(t *testing.T) {
	s, err := Static(Counter()).Attach(context.Background(), "any", trace.AttachOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, s.CurrentLocation().Line)
}
