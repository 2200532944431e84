// Package trace defines the contract between the debug runtime and a
// trace-replay engine: an engine attaches to a mined transaction and returns a
// Session that can be stepped and queried at source level.
package trace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/dshills/evmdebug/internal/artifacts"
)

// ErrUnknownEngine is returned by Registry.Create for an unregistered name.
var ErrUnknownEngine = errors.New("unknown trace engine")

// Source is a source file known to an engine session.
type Source struct {
	ID   int
	Path string
}

// Location is a position in a source file. Line and Column start at 1; a zero
// Line means the position is not mapped to source.
type Location struct {
	SourceID int
	File     string
	Line     int
	Column   int
}

// Mapped reports whether l points into a source file.
func (l Location) Mapped() bool {
	return l.Line > 0
}

// CallFrame is one entry of the raw call stack, outermost first.
type CallFrame struct {
	// Address is the code address executing in this frame.
	Address string
	// StorageAddress is the account whose storage the frame uses. It differs
	// from Address under DELEGATECALL and CALLCODE.
	StorageAddress string
	// ContractName is set when the frame runs a contract that was resolved
	// without an address, such as a library or a contract being created.
	ContractName string
	// PC is the program counter of the frame's current instruction.
	PC uint64
}

// ContractInfo describes a contract the session knows. Contracts without an
// Address are base contracts.
type ContractInfo struct {
	Name       string
	SourcePath string
	Address    string
}

// Instruction is one disassembled instruction.
type Instruction struct {
	PC       uint64 `json:"pc"`
	Op       string `json:"op"`
	Argument string `json:"argument,omitempty"`
}

// Breakpoint is a source line the engine halts on.
type Breakpoint struct {
	SourceID int
	Line     int
}

// HaltReason says why ContinueUntilBreakpoint returned.
type HaltReason int

const (
	// HaltEnd means the trace was exhausted.
	HaltEnd HaltReason = iota
	// HaltBreakpoint means execution reached a breakpoint line.
	HaltBreakpoint
	// HaltFault means execution reached a failing instruction.
	HaltFault
)

// String returns the reason name.
func (r HaltReason) String() string {
	switch r {
	case HaltEnd:
		return "end"
	case HaltBreakpoint:
		return "breakpoint"
	case HaltFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Halt is the result of ContinueUntilBreakpoint.
type Halt struct {
	Reason     HaltReason
	Breakpoint Breakpoint
	Fault      string
}

// Session is an attached, steppable replay of one transaction. Sessions are
// not safe for concurrent use.
type Session interface {
	Sources() []Source
	Contracts() []ContractInfo

	CurrentLocation() Location
	// CurrentStep returns the step under the cursor, including its logical
	// depth. It is the zero Step for an empty trace.
	CurrentStep() Step
	CallStack() []CallFrame
	Instructions() []Instruction
	CurrentInstruction() (Instruction, bool)

	// Finished reports whether stepping ran past the last step of the trace.
	Finished() bool

	// Variables returns a JSON-shaped snapshot of the state at the current step.
	Variables() (map[string]any, error)

	AddBreakpoint(bp Breakpoint) error
	RemoveAllBreakpoints()
	ContinueUntilBreakpoint() Halt

	StepNext()
	StepInto()
	StepOut()

	Close() error
}

// AttachOptions are the per-launch inputs of Engine.Attach.
type AttachOptions struct {
	Contracts        []artifacts.Contract
	ProviderURL      string
	WorkingDirectory string
}

// Engine attaches to transactions.
type Engine interface {
	Attach(ctx context.Context, txHash string, opts AttachOptions) (Session, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, txHash string, opts AttachOptions) (Session, error)

// Attach implements Engine.
func (f EngineFunc) Attach(ctx context.Context, txHash string, opts AttachOptions) (Session, error) {
	return f(ctx, txHash, opts)
}

// Config carries engine-wide settings to engine factories.
type Config struct {
	EnableMemory  bool
	EnableStorage bool

	// TraceTimeout bounds the initial trace fetch. Zero means no limit.
	TraceTimeout time.Duration

	Logger log.Logger
}

// Factory builds an Engine.
type Factory func(Config) (Engine, error)

// Registry maps engine names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds the engine registered as name.
func (r *Registry) Create(name string, config Config) (Engine, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return factory(config)
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
