package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrDelegation matches every DelegationError via errors.Is.
	ErrDelegation = errors.New("engine delegation failed")
	// ErrSourceUnavailable indicates the raw event source went away. It is
	// fatal to the whole run.
	ErrSourceUnavailable = errors.New("event source unavailable")
	// ErrUnknownHandle indicates a handle the engine does not hold.
	ErrUnknownHandle = errors.New("unknown engine handle")
)

// DelegationError wraps a failure returned by the engine.
type DelegationError struct {
	Op     string
	Handle Handle
	Err    error
}

func (e *DelegationError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("engine %s(%s): %v", e.Op, e.Handle, e.Err)
	}
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *DelegationError) Unwrap() error { return e.Err }

// Is makes every DelegationError match ErrDelegation.
func (e *DelegationError) Is(target error) bool { return target == ErrDelegation }

// Wrap wraps a non-nil engine error with the operation that produced it.
func Wrap(op string, h Handle, err error) error {
	if err == nil {
		return nil
	}
	var de *DelegationError
	if errors.As(err, &de) {
		return err
	}
	return &DelegationError{Op: op, Handle: h, Err: err}
}
