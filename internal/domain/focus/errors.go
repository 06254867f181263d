package focus

import "errors"

var (
	// ErrInvalidBinning indicates binning parameters outside the admissible
	// range for the target unit.
	ErrInvalidBinning = errors.New("invalid binning")
	// ErrGeometryMismatch indicates focused histograms that do not match the
	// bundle's detector layout.
	ErrGeometryMismatch = errors.New("focused spectra do not match focus geometry")
	// ErrNoBundle indicates a focus request without a calibration bundle.
	ErrNoBundle = errors.New("no calibration bundle")
)
