// Package runtime owns the attached trace of a debug session. It tracks
// breakpoints, including those declared before a trace is attached, drives
// stepping, rebuilds source-level call stacks and reports lifecycle events on
// a channel.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/dshills/evmdebug/internal/artifacts"
	"github.com/dshills/evmdebug/internal/debug/variables"
	"github.com/dshills/evmdebug/internal/trace"
)

// ContractLoader supplies the compiled contracts of a project.
type ContractLoader interface {
	Load(workingDirectory string) ([]artifacts.Contract, error)
}

// Options configures a Runtime.
type Options struct {
	Engine    trace.Engine
	Contracts ContractLoader
	Logger    log.Logger

	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// Runtime serialises all access to one attached trace session.
type Runtime struct {
	engine    trace.Engine
	contracts ContractLoader
	log       log.Logger

	mu          sync.Mutex
	session     trace.Session
	nextID      int
	breakpoints []Breakpoint
	pending     []PendingBreakpoint
	events      chan Event
	closed      bool
}

var _ variables.Source = (*Runtime)(nil)

// New creates a runtime with no trace attached.
func New(opts Options) *Runtime {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	l := opts.Logger
	if l == nil {
		l = log.Root()
	}
	return &Runtime{
		engine:    opts.Engine,
		contracts: opts.Contracts,
		log:       l,
		nextID:    1,
		events:    make(chan Event, opts.EventBuffer),
	}
}

// Events returns the lifecycle event channel. It is closed by Close.
func (r *Runtime) Events() <-chan Event {
	return r.events
}

// Attached reports whether a trace is attached.
func (r *Runtime) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Attach loads the project contracts of workingDirectory and attaches the
// engine to txHash.
func (r *Runtime) Attach(ctx context.Context, txHash, workingDirectory, providerURL string) error {
	if r.engine == nil {
		return errors.New("no trace engine configured")
	}
	if r.Attached() {
		return ErrAlreadyAttached
	}

	var contracts []artifacts.Contract
	if r.contracts != nil {
		var err error
		contracts, err = r.contracts.Load(workingDirectory)
		if err != nil {
			return fmt.Errorf("load contracts: %w", err)
		}
	}

	s, err := r.engine.Attach(ctx, txHash, trace.AttachOptions{
		Contracts:        contracts,
		ProviderURL:      providerURL,
		WorkingDirectory: workingDirectory,
	})
	if err != nil {
		return fmt.Errorf("attach %s: %w", txHash, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil || r.closed {
		s.Close()
		return ErrAlreadyAttached
	}
	r.session = s
	r.log.Info("Trace attached", "tx", txHash, "sources", len(s.Sources()), "contracts", len(contracts))
	return nil
}

// Start reports the initial stop. With stopOnEntry it raises EventEntry,
// otherwise it continues to the first breakpoint.
func (r *Runtime) Start(stopOnEntry bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return ErrNoSession
	}
	if r.session.Finished() {
		r.emit(Event{Kind: EventEnd})
		return nil
	}
	if stopOnEntry {
		r.emit(Event{Kind: EventEntry})
		return nil
	}
	r.continueLocked()
	return nil
}

// Continue runs to the next breakpoint, fault or the end of the trace.
func (r *Runtime) Continue() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return ErrNoSession
	}
	r.continueLocked()
	return nil
}

func (r *Runtime) continueLocked() {
	h := r.session.ContinueUntilBreakpoint()
	if r.session.Finished() || h.Reason == trace.HaltEnd {
		r.emit(Event{Kind: EventEnd})
		return
	}
	switch h.Reason {
	case trace.HaltFault:
		r.emit(Event{Kind: EventException, Text: h.Fault})
	case trace.HaltBreakpoint:
		ev := Event{Kind: EventBreakpoint}
		for i := range r.breakpoints {
			bp := r.breakpoints[i]
			if bp.SourceID == h.Breakpoint.SourceID && bp.Line == h.Breakpoint.Line {
				ev.Breakpoint = &bp
				break
			}
		}
		r.emit(ev)
	}
}

// StepNext steps over the current line.
func (r *Runtime) StepNext() error {
	return r.step(trace.Session.StepNext, EventStepOver)
}

// StepInto steps into the current line.
func (r *Runtime) StepInto() error {
	return r.step(trace.Session.StepInto, EventStepIn)
}

// StepOut steps out of the current function.
func (r *Runtime) StepOut() error {
	return r.step(trace.Session.StepOut, EventStepOut)
}

func (r *Runtime) step(move func(trace.Session), kind EventKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return ErrNoSession
	}
	move(r.session)
	if r.session.Finished() {
		r.emit(Event{Kind: EventEnd})
	} else {
		r.emit(Event{Kind: kind})
	}
	return nil
}

// CurrentLine returns the current source location.
func (r *Runtime) CurrentLine() (trace.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return trace.Location{}, ErrNoSession
	}
	return r.session.CurrentLocation(), nil
}

// InstructionSteps returns the instructions of the code currently executing.
func (r *Runtime) InstructionSteps() ([]trace.Instruction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil, ErrNoSession
	}
	return r.session.Instructions(), nil
}

// CurrentInstructionStep returns the instruction at the current step.
func (r *Runtime) CurrentInstructionStep() (trace.Instruction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return trace.Instruction{}, false, ErrNoSession
	}
	in, ok := r.session.CurrentInstruction()
	return in, ok, nil
}

// Variables returns the variable snapshot of the current step.
func (r *Runtime) Variables(ctx context.Context) (variables.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return variables.Value{}, ErrNoSession
	}
	vars, err := r.session.Variables()
	if err != nil {
		return variables.Value{}, err
	}
	return variables.FromAny(vars), nil
}

// Close detaches the trace and closes the event channel.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.events)

	if r.session == nil {
		return nil
	}
	return r.session.Close()
}

// emit queues ev. Must be called with mu held.
func (r *Runtime) emit(ev Event) {
	if r.closed {
		return
	}
	r.log.Trace("Runtime event", "event", ev.Kind)
	r.events <- ev
}
