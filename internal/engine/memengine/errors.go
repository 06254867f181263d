package memengine

import "errors"

var (
	ErrMalformedEvents      = errors.New("malformed event file")
	ErrMalformedCalibration = errors.New("malformed calibration file")
	ErrNotFocused           = errors.New("workspace is not focused")
	ErrNoEvents             = errors.New("no events to histogram")
	ErrUnknownLog           = errors.New("unknown sample log")
)
