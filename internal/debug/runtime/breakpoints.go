package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/evmdebug/internal/trace"
)

// Breakpoint is a breakpoint accepted by the trace. IDs are unique within a
// runtime and never reused.
type Breakpoint struct {
	ID       int
	SourceID int
	Path     string
	Line     int
	Verified bool
}

// PendingBreakpoint holds lines requested before a trace was attached.
type PendingBreakpoint struct {
	Path  string
	Lines []int
}

// SetBreakpoint adds a breakpoint at line of path. It returns nil and no
// error when no trace is attached yet.
func (r *Runtime) SetBreakpoint(path string, line int) (*Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, nil
	}
	return r.setBreakpointLocked(path, line)
}

func (r *Runtime) setBreakpointLocked(path string, line int) (*Breakpoint, error) {
	src, err := r.resolveSource(path)
	if err != nil {
		return nil, err
	}
	return r.addLocked(Breakpoint{SourceID: src.ID, Path: path, Line: line})
}

// addLocked registers bp with the trace, assigning a fresh id when bp has none.
func (r *Runtime) addLocked(bp Breakpoint) (*Breakpoint, error) {
	if err := r.session.AddBreakpoint(trace.Breakpoint{SourceID: bp.SourceID, Line: bp.Line}); err != nil {
		return nil, fmt.Errorf("add breakpoint %s:%d: %w", bp.Path, bp.Line, err)
	}
	if bp.ID == 0 {
		bp.ID = r.nextID
		r.nextID++
	}
	bp.Verified = true
	r.breakpoints = append(r.breakpoints, bp)

	out := bp
	r.emit(Event{Kind: EventBreakpointValidated, Breakpoint: &out})
	return &out, nil
}

// ClearBreakpoints removes every breakpoint from the trace.
func (r *Runtime) ClearBreakpoints() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return ErrNoSession
	}
	r.session.RemoveAllBreakpoints()
	r.breakpoints = nil
	return nil
}

// Breakpoints returns the active breakpoints in creation order.
func (r *Runtime) Breakpoints() []Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Breakpoint(nil), r.breakpoints...)
}

// StoreInitialBreakPoints queues lines of path for replay after Attach.
func (r *Runtime) StoreInitialBreakPoints(path string, lines []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, PendingBreakpoint{Path: path, Lines: append([]int(nil), lines...)})
}

// Pending returns the queued breakpoints.
func (r *Runtime) Pending() []PendingBreakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PendingBreakpoint(nil), r.pending...)
}

// ProcessInitialBreakPoints sets every queued breakpoint in queue order and
// empties the queue. Lines that cannot be set are reported together in the
// returned error; the others are still set.
func (r *Runtime) ProcessInitialBreakPoints() ([]Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, ErrNoSession
	}

	queue := r.pending
	r.pending = nil

	var set []Breakpoint
	var errs []error
	for _, p := range queue {
		for _, line := range p.Lines {
			bp, err := r.setBreakpointLocked(p.Path, line)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			set = append(set, *bp)
		}
	}
	return set, errors.Join(errs...)
}

// SetBreakpoints replaces the breakpoints of path with lines. Before Attach
// the lines are queued, replacing any earlier request for path, and returned
// unverified.
func (r *Runtime) SetBreakpoints(path string, lines []int) ([]Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		want := normalizePath(path)
		kept := r.pending[:0]
		for _, p := range r.pending {
			if normalizePath(p.Path) != want {
				kept = append(kept, p)
			}
		}
		r.pending = append(kept, PendingBreakpoint{Path: path, Lines: append([]int(nil), lines...)})

		out := make([]Breakpoint, len(lines))
		for i, line := range lines {
			out[i] = Breakpoint{Path: path, Line: line}
		}
		return out, nil
	}

	src, err := r.resolveSource(path)
	if err != nil {
		return nil, err
	}

	// the trace only supports removing everything, so survivors from other
	// sources are added back with their ids
	survivors := make([]Breakpoint, 0, len(r.breakpoints))
	for _, bp := range r.breakpoints {
		if bp.SourceID != src.ID {
			survivors = append(survivors, bp)
		}
	}
	r.session.RemoveAllBreakpoints()
	r.breakpoints = nil
	for _, bp := range survivors {
		if err := r.session.AddBreakpoint(trace.Breakpoint{SourceID: bp.SourceID, Line: bp.Line}); err != nil {
			r.log.Warn("Cannot restore breakpoint", "path", bp.Path, "line", bp.Line, "err", err)
			continue
		}
		r.breakpoints = append(r.breakpoints, bp)
	}

	out := make([]Breakpoint, 0, len(lines))
	for _, line := range lines {
		bp, err := r.addLocked(Breakpoint{SourceID: src.ID, Path: path, Line: line})
		if err != nil {
			out = append(out, Breakpoint{Path: path, Line: line})
			r.log.Warn("Breakpoint rejected", "path", path, "line", line, "err", err)
			continue
		}
		out = append(out, *bp)
	}
	return out, nil
}

// ResolveSource returns the trace source that breakpoints on path bind to.
func (r *Runtime) ResolveSource(path string) (trace.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return trace.Source{}, ErrNoSession
	}
	return r.resolveSource(path)
}

// resolveSource finds the trace source whose path is contained in path after
// both are normalised. The first match wins.
func (r *Runtime) resolveSource(path string) (trace.Source, error) {
	want := normalizePath(path)

	var matches []trace.Source
	for _, src := range r.session.Sources() {
		have := normalizePath(src.Path)
		if have != "" && strings.Contains(want, have) {
			matches = append(matches, src)
		}
	}

	switch len(matches) {
	case 0:
		return trace.Source{}, fmt.Errorf("%w: %s", ErrUnresolvedSource, path)
	case 1:
	default:
		paths := make([]string, len(matches))
		for i, m := range matches {
			paths[i] = m.Path
		}
		r.log.Warn("Breakpoint path matches several sources, using the first", "path", path, "candidates", paths)
	}
	return matches[0], nil
}

// normalizePath uses forward slashes and a lower-case drive letter.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return p
}
