package evm

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/dshills/evmdebug/internal/trace"
	"github.com/dshills/evmdebug/internal/trace/sourcemap"
)

// Session is an attached EVM transaction trace.
type Session struct {
	backend   Backend
	records   []record
	sources   []trace.Source
	known     map[int]bool
	contracts []trace.ContractInfo
	cursor    *trace.Cursor
	closed    bool
}

var _ trace.Session = (*Session)(nil)

func newSession(backend Backend, r *resolver, records []record) *Session {
	s := &Session{
		backend:   backend,
		records:   records,
		known:     make(map[int]bool, len(r.sources)),
		contracts: r.contractInfos(),
	}
	for id, src := range r.sources {
		s.sources = append(s.sources, trace.Source{ID: id, Path: src.path})
		s.known[id] = true
	}
	sort.Slice(s.sources, func(i, j int) bool { return s.sources[i].ID < s.sources[j].ID })

	// internal function depth per frame, driven by the jump markers
	internal := make(map[*frame]int)
	steps := make([]trace.Step, len(records))
	for i, rec := range records {
		f := rec.stack[len(rec.stack)-1]
		loc, jump := r.location(f.prog, rec.log.Pc)
		steps[i] = trace.Step{
			Location: loc,
			Depth:    f.depth + internal[f],
			Fault:    rec.log.Error,
		}
		switch jump {
		case sourcemap.JumpInto:
			internal[f]++
		case sourcemap.JumpReturn:
			if internal[f] > 0 {
				internal[f]--
			}
		}
	}
	s.cursor = trace.NewCursor(steps)
	return s
}

// Sources implements trace.Session.
func (s *Session) Sources() []trace.Source { return s.sources }

// Contracts implements trace.Session.
func (s *Session) Contracts() []trace.ContractInfo { return s.contracts }

// CurrentLocation implements trace.Session.
func (s *Session) CurrentLocation() trace.Location { return s.cursor.Location() }

// CurrentStep implements trace.Session.
func (s *Session) CurrentStep() trace.Step {
	step, _ := s.cursor.Current()
	return step
}

// CallStack implements trace.Session.
func (s *Session) CallStack() []trace.CallFrame {
	rec, ok := s.current()
	if !ok {
		return nil
	}
	out := make([]trace.CallFrame, len(rec.stack))
	for i, f := range rec.stack {
		cf := trace.CallFrame{}
		if f.code != (common.Address{}) {
			cf.Address = f.code.Hex()
		}
		if f.storage != (common.Address{}) {
			cf.StorageAddress = f.storage.Hex()
		}
		if f.prog != nil {
			cf.ContractName = f.prog.contract.Name
		}
		out[i] = cf
	}
	// the innermost frame is at the current step; each outer frame is at the
	// last instruction it ran, the call that entered the next frame
	out[len(out)-1].PC = rec.log.Pc
	filled := make([]bool, len(out))
	missing := len(out) - 1
	for i := s.cursor.Pos() - 1; i >= 0 && missing > 0; i-- {
		prev := s.records[i]
		d := len(prev.stack)
		if d < len(out) && !filled[d-1] && prev.stack[d-1] == rec.stack[d-1] {
			out[d-1].PC = prev.log.Pc
			filled[d-1] = true
			missing--
		}
	}
	return out
}

// Instructions implements trace.Session.
func (s *Session) Instructions() []trace.Instruction {
	rec, ok := s.current()
	if !ok {
		return nil
	}
	if p := rec.stack[len(rec.stack)-1].prog; p != nil {
		return p.instructions
	}
	return nil
}

// CurrentInstruction implements trace.Session.
func (s *Session) CurrentInstruction() (trace.Instruction, bool) {
	rec, ok := s.current()
	if !ok {
		return trace.Instruction{}, false
	}
	if p := rec.stack[len(rec.stack)-1].prog; p != nil {
		if in, ok := p.instruction(rec.log.Pc); ok {
			return in, true
		}
	}
	return trace.Instruction{PC: rec.log.Pc, Op: rec.log.Op}, true
}

// Finished implements trace.Session.
func (s *Session) Finished() bool { return s.cursor.Finished() }

// Variables implements trace.Session.
func (s *Session) Variables() (map[string]any, error) {
	if s.closed {
		return nil, errors.New("session closed")
	}
	rec, ok := s.current()
	if !ok {
		return map[string]any{}, nil
	}
	return snapshot(rec), nil
}

// AddBreakpoint implements trace.Session.
func (s *Session) AddBreakpoint(bp trace.Breakpoint) error {
	if !s.known[bp.SourceID] {
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

// Close releases the node connection.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.backend.Close()
	return nil
}

func (s *Session) current() (record, bool) {
	if len(s.records) == 0 {
		return record{}, false
	}
	return s.records[s.cursor.Pos()], true
}

// snapshot renders the machine state of one step.
func snapshot(rec record) map[string]any {
	f := rec.stack[len(rec.stack)-1]
	log := rec.log

	contract := map[string]any{
		"address":        f.code.Hex(),
		"storageAddress": f.storage.Hex(),
		"depth":          f.depth,
	}
	if f.prog != nil {
		contract["name"] = f.prog.contract.Name
		contract["sourcePath"] = f.prog.contract.SourcePath
	}

	step := map[string]any{
		"pc":      log.Pc,
		"op":      log.Op,
		"gas":     log.Gas,
		"gasCost": log.GasCost,
		"depth":   log.Depth,
	}
	if log.Error != "" {
		step["error"] = log.Error
	}

	vars := map[string]any{
		"contract": contract,
		"step":     step,
	}

	if log.Stack != nil {
		// top of stack first
		words := *log.Stack
		stack := make(map[string]any, len(words))
		for i := range words {
			w := new(uint256.Int).SetBytes(common.FromHex(words[len(words)-1-i]))
			stack[stackKey(i, len(words))] = map[string]any{
				"hex":     w.Hex(),
				"decimal": w.ToBig().String(),
			}
		}
		vars["stack"] = stack
	}
	if log.Memory != nil {
		vars["memory"] = append([]string(nil), (*log.Memory)...)
	}
	if log.Storage != nil {
		storage := make(map[string]any, len(*log.Storage))
		for slot, value := range *log.Storage {
			storage[slot] = value
		}
		vars["storage"] = storage
	}
	return vars
}

// stackKey names stack slot i of n so that keys sort in slot order.
func stackKey(i, n int) string {
	return fmt.Sprintf("%0*d", len(strconv.Itoa(n-1)), i)
}
