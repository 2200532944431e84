package fixture

import (
	"errors"

	"github.com/dshills/evmdebug/internal/trace"
)

// Session replays a recorded trace.
type Session struct {
	trace  *Trace
	files  map[int]string
	cursor *trace.Cursor
	closed bool
}

var _ trace.Session = (*Session)(nil)

// NewSession starts a replay of t on its first mapped step.
func NewSession(t *Trace) *Session {
	files := make(map[int]string, len(t.Sources))
	for _, src := range t.Sources {
		files[src.ID] = src.Path
	}

	steps := make([]trace.Step, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = trace.Step{
			Location: trace.Location{
				SourceID: s.SourceID,
				File:     files[s.SourceID],
				Line:     s.Line,
				Column:   s.Column,
			},
			Depth: s.Depth,
			Fault: s.Fault,
		}
	}

	return &Session{
		trace:  t,
		files:  files,
		cursor: trace.NewCursor(steps),
	}
}

// Sources implements trace.Session.
func (s *Session) Sources() []trace.Source {
	out := make([]trace.Source, len(s.trace.Sources))
	for i, src := range s.trace.Sources {
		out[i] = trace.Source{ID: src.ID, Path: src.Path}
	}
	return out
}

// Contracts implements trace.Session.
func (s *Session) Contracts() []trace.ContractInfo {
	out := make([]trace.ContractInfo, len(s.trace.Contracts))
	for i, c := range s.trace.Contracts {
		out[i] = trace.ContractInfo{Name: c.Name, SourcePath: c.SourcePath, Address: c.Address}
	}
	return out
}

// CurrentLocation implements trace.Session.
func (s *Session) CurrentLocation() trace.Location {
	return s.cursor.Location()
}

// CurrentStep implements trace.Session.
func (s *Session) CurrentStep() trace.Step {
	step, _ := s.cursor.Current()
	return step
}

// CallStack implements trace.Session.
func (s *Session) CallStack() []trace.CallFrame {
	step, ok := s.step()
	if !ok {
		return nil
	}
	out := make([]trace.CallFrame, len(step.CallStack))
	for i, f := range step.CallStack {
		out[i] = trace.CallFrame{
			Address:        f.Address,
			StorageAddress: f.StorageAddress,
			ContractName:   f.ContractName,
			PC:             f.PC,
		}
	}
	return out
}

// Instructions implements trace.Session.
func (s *Session) Instructions() []trace.Instruction {
	return s.trace.Instructions
}

// CurrentInstruction implements trace.Session.
func (s *Session) CurrentInstruction() (trace.Instruction, bool) {
	step, ok := s.step()
	if !ok {
		return trace.Instruction{}, false
	}
	for _, in := range s.trace.Instructions {
		if in.PC == step.PC {
			return in, true
		}
	}
	return trace.Instruction{}, false
}

// Finished implements trace.Session.
func (s *Session) Finished() bool {
	return s.cursor.Finished()
}

// Variables implements trace.Session.
func (s *Session) Variables() (map[string]any, error) {
	if s.closed {
		return nil, errors.New("session closed")
	}
	step, ok := s.step()
	if !ok || step.Variables == nil {
		return map[string]any{}, nil
	}
	return step.Variables, nil
}

// AddBreakpoint implements trace.Session.
func (s *Session) AddBreakpoint(bp trace.Breakpoint) error {
	if _, ok := s.files[bp.SourceID]; !ok {
		return errors.New("unknown source id")
	}
	s.cursor.AddBreakpoint(bp)
	return nil
}

// RemoveAllBreakpoints implements trace.Session.
func (s *Session) RemoveAllBreakpoints() { s.cursor.ClearBreakpoints() }

// ContinueUntilBreakpoint implements trace.Session.
func (s *Session) ContinueUntilBreakpoint() trace.Halt { return s.cursor.Continue() }

// StepNext implements trace.Session.
func (s *Session) StepNext() { s.cursor.StepNext() }

// StepInto implements trace.Session.
func (s *Session) StepInto() { s.cursor.StepInto() }

// StepOut implements trace.Session.
func (s *Session) StepOut() { s.cursor.StepOut() }

// Close implements trace.Session.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

func (s *Session) step() (Step, bool) {
	if s.cursor.Len() == 0 {
		return Step{}, false
	}
	return s.trace.Steps[s.cursor.Pos()], true
}
