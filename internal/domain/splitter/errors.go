package splitter

import "errors"

var (
	// ErrInvalidRange indicates a bad time or bin range (start >= stop, step <= 0).
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidInput indicates a request missing required fields.
	ErrInvalidInput = errors.New("invalid splitter input")
	// ErrMixedTargets indicates some arbitrary entries carry a target and some do not.
	ErrMixedTargets = errors.New("arbitrary splitters mix explicit and implicit targets")
	// ErrInvalidDirection indicates an unknown log-threshold direction.
	ErrInvalidDirection = errors.New("invalid log threshold direction")
)
