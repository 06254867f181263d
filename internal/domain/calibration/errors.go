package calibration

import "errors"

var (
	// ErrNoCalibration indicates the run date precedes every effective date.
	ErrNoCalibration = errors.New("no calibration effective for run date")
	// ErrUnknownBankCount indicates a bank count with no calibration or layout.
	ErrUnknownBankCount = errors.New("unknown bank count")
	// ErrInvalidTable indicates a malformed calibration table.
	ErrInvalidTable = errors.New("invalid calibration table")
)
