package reduction

import "errors"

var (
	ErrInvalidJob     = errors.New("invalid reduction job")
	ErrAlreadyReduced = errors.New("reduction already recorded")
	ErrGSASNeedsTOF   = errors.New("GSAS output requires TOF focusing")
	ErrInvalidTarget  = errors.New("target is not a valid file name")
)
