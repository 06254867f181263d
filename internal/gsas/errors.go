package gsas

import "errors"

var (
	// ErrMissingTimeMetadata indicates neither proton-charge pulse times nor
	// run_start plus duration are available.
	ErrMissingTimeMetadata = errors.New("missing proton charge and run start/duration metadata")
	// ErrInvalidSpectrum indicates vectors that cannot be written as a bank.
	ErrInvalidSpectrum = errors.New("invalid spectrum")
	// ErrVanadiumMismatch indicates a vanadium that does not match the sample binning.
	ErrVanadiumMismatch = errors.New("vanadium does not match sample")
	// ErrUnknownBankLayout indicates a bank count with no reference-bin mapping.
	ErrUnknownBankLayout = errors.New("unknown bank layout")
)
