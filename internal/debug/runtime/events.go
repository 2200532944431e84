package runtime

// EventKind identifies a lifecycle event.
type EventKind int

const (
	// EventEntry is raised when execution stops on the first step.
	EventEntry EventKind = iota
	// EventBreakpoint is raised when continue stops on a breakpoint.
	EventBreakpoint
	// EventStepOver is raised after a step over.
	EventStepOver
	// EventStepIn is raised after a step into.
	EventStepIn
	// EventStepOut is raised after a step out.
	EventStepOut
	// EventException is raised when continue stops on a failing instruction.
	EventException
	// EventEnd is raised once stepping runs past the end of the trace.
	EventEnd
	// EventBreakpointValidated is raised for every breakpoint the trace accepts.
	EventBreakpointValidated
)

// String returns the event name. For stop events this is the stop reason.
func (k EventKind) String() string {
	switch k {
	case EventEntry:
		return "entry"
	case EventBreakpoint:
		return "breakpoint"
	case EventStepOver:
		return "step-over"
	case EventStepIn:
		return "step-in"
	case EventStepOut:
		return "step-out"
	case EventException:
		return "exception"
	case EventEnd:
		return "end"
	case EventBreakpointValidated:
		return "breakpoint-validated"
	default:
		return "unknown"
	}
}

// IsStop reports whether the event means execution is paused.
func (k EventKind) IsStop() bool {
	return k <= EventException
}

// Event is a lifecycle notification.
type Event struct {
	Kind EventKind

	// Breakpoint is the validated breakpoint, or the one hit.
	Breakpoint *Breakpoint

	// Text carries the fault of an exception stop.
	Text string
}
