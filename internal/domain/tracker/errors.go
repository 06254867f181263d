package tracker

import "errors"

var (
	// ErrTrackerNotFound indicates no tracker exists for the key.
	ErrTrackerNotFound = errors.New("tracker not found")
	// ErrInvalidTransition indicates a move to the same or an earlier state.
	ErrInvalidTransition = errors.New("invalid tracker state transition")
	// ErrInvalidInput indicates invalid input for tracker operations.
	ErrInvalidInput = errors.New("invalid tracker input")
)
