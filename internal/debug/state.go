package debug

// State is the protocol state of a Session.
type State int

const (
	// StateUninitialized is the state before the initialize request.
	StateUninitialized State = iota
	// StateInitialized is after initialize, while the client configures.
	StateInitialized
	// StateLaunching is while launch attaches the transaction.
	StateLaunching
	// StateRunning is while a step or continue is in progress.
	StateRunning
	// StateStopped is when execution is paused.
	StateStopped
	// StateTerminated is once the trace is exhausted or the client left.
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
