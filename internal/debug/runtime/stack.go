package runtime

import (
	"strings"

	"github.com/dshills/evmdebug/internal/trace"
)

// Frame is a source-level stack frame.
type Frame struct {
	Name      string
	File      string
	Line      int
	Column    int
	Address   string
	PC        uint64
	IsCurrent bool
}

// CallStack rebuilds the source-level call stack, innermost frame first.
// Only the current frame carries a live position; the others point at line
// 0 of their contract's source.
func (r *Runtime) CallStack() ([]Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, ErrNoSession
	}

	raw := r.session.CallStack()
	loc := r.session.CurrentLocation()
	contracts := r.session.Contracts()

	frames := make([]Frame, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		f, err := buildFrame(raw[i], i == len(raw)-1, loc, contracts)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func buildFrame(cf trace.CallFrame, current bool, loc trace.Location, contracts []trace.ContractInfo) (Frame, error) {
	addr := cf.Address
	if addr == "" {
		addr = cf.StorageAddress
	}

	if cf.ContractName != "" {
		if base, ok := findBase(contracts, cf.ContractName); ok {
			f := Frame{Name: base.Name, Address: addr, PC: cf.PC}
			if current {
				f.File, f.Line, f.Column, f.IsCurrent = loc.File, loc.Line, loc.Column, true
			} else {
				f.File = base.SourcePath
			}
			return f, nil
		}
	}

	c, ok := findByAddress(contracts, addr)
	if !ok {
		return Frame{}, &ContractError{Address: addr, Err: ErrUnresolvedContract}
	}

	f := Frame{Name: c.Name, File: c.SourcePath, Address: addr, PC: cf.PC}
	if current && normalizePath(c.SourcePath) == normalizePath(loc.File) {
		f.Line, f.Column, f.IsCurrent = loc.Line, loc.Column, true
	}
	return f, nil
}

func findBase(contracts []trace.ContractInfo, name string) (trace.ContractInfo, bool) {
	for _, c := range contracts {
		if c.Address == "" && c.Name == name {
			return c, true
		}
	}
	return trace.ContractInfo{}, false
}

func findByAddress(contracts []trace.ContractInfo, addr string) (trace.ContractInfo, bool) {
	if addr == "" {
		return trace.ContractInfo{}, false
	}
	for _, c := range contracts {
		if c.Address != "" && strings.EqualFold(c.Address, addr) {
			return c, true
		}
	}
	return trace.ContractInfo{}, false
}
