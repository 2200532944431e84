package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned by operations that need an attached trace.
	ErrNoSession = errors.New("no debug session attached")

	// ErrAlreadyAttached is returned by a second Attach.
	ErrAlreadyAttached = errors.New("debug session already attached")

	// ErrUnresolvedSource is returned when a breakpoint path matches no
	// source known to the trace.
	ErrUnresolvedSource = errors.New("source not found in trace")

	// ErrUnresolvedContract is returned when a call frame's address matches
	// no known contract.
	ErrUnresolvedContract = errors.New("no contract known at address")
)

// ContractError reports a call frame that could not be attributed.
type ContractError struct {
	Address string
	Err     error
}

// Error implements error.
func (e *ContractError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Address)
}

// Unwrap returns the underlying error.
func (e *ContractError) Unwrap() error {
	return e.Err
}
