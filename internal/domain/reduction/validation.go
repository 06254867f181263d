package reduction

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/focus"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
)

var validate = validator.New()

// ValidateJob checks a job with defaults applied.
func ValidateJob(job Job) error {
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if job.Unit != engine.TOF {
		return fmt.Errorf("%w: unit %s", ErrGSASNeedsTOF, job.Unit)
	}
	if _, err := focus.ParseBinning(job.Binning, job.Unit); err != nil {
		return err
	}
	if job.Slicing.Kind == SliceWindows && !(job.Slicing.Window > job.Slicing.Stride) {
		return fmt.Errorf("%w: window %g must exceed stride %g", ErrInvalidJob, job.Slicing.Window, job.Slicing.Stride)
	}
	return nil
}

func validTarget(t string) bool {
	return t != "" && t != "." && t != ".." && !strings.ContainsAny(t, `/\`)
}
