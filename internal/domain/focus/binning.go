package focus

import (
	"fmt"

	"github.com/neutrons/PyVDrive-sub000/internal/engine"
)

// Admissible binning ranges per unit (exclusive bounds).
const (
	DSpacingMin = 0.0
	DSpacingMax = 20.0
	TOFMin      = 1000.0
	TOFMax      = 1_000_000.0
)

// Binning is either a bare width (Auto, range chosen by the engine) or an
// explicit (min, width, max) triple. A negative width is logarithmic.
type Binning struct {
	Min   float64
	Width float64
	Max   float64
	Auto  bool
}

// ParseBinning reads (width) or (min, width, max) and validates it for unit.
func ParseBinning(params []float64, unit engine.Unit) (Binning, error) {
	var b Binning
	switch len(params) {
	case 1:
		b = Binning{Width: params[0], Auto: true}
	case 3:
		b = Binning{Min: params[0], Width: params[1], Max: params[2]}
	default:
		return Binning{}, fmt.Errorf("%w: want 1 or 3 parameters, got %d", ErrInvalidBinning, len(params))
	}
	if err := b.Validate(unit); err != nil {
		return Binning{}, err
	}
	return b, nil
}

// Validate checks the binning against the admissible range of unit.
func (b Binning) Validate(unit engine.Unit) error {
	if !unit.Valid() {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidBinning, unit)
	}
	if b.Width == 0 {
		return fmt.Errorf("%w: zero bin width", ErrInvalidBinning)
	}
	if b.Auto {
		return nil
	}
	if b.Min >= b.Max {
		return fmt.Errorf("%w: min %g >= max %g", ErrInvalidBinning, b.Min, b.Max)
	}
	lo, hi := TOFMin, TOFMax
	if unit == engine.DSpacing {
		lo, hi = DSpacingMin, DSpacingMax
	}
	if b.Min <= lo || b.Max >= hi {
		return fmt.Errorf("%w: %s range [%g, %g] outside (%g, %g)", ErrInvalidBinning, unit, b.Min, b.Max, lo, hi)
	}
	return nil
}

// Params renders the binning the way the engine takes it.
func (b Binning) Params() []float64 {
	if b.Auto {
		return []float64{b.Width}
	}
	return []float64{b.Min, b.Width, b.Max}
}
