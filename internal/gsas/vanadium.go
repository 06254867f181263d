package gsas

import (
	"fmt"
	"math"
)

const zeroTolerance = 1e-10

// Normalize divides sample by vanadium bin by bin and propagates the
// relative errors in quadrature. Sample bins with zero intensity take a
// relative error of one; vanadium bins that are zero yield 0 +- 0.
func Normalize(sample, vanadium Spectrum) (Spectrum, error) {
	if len(sample.Y) != len(vanadium.Y) || len(vanadium.E) != len(vanadium.Y) {
		return Spectrum{}, fmt.Errorf("%w: bank %d has %d bins, vanadium %d",
			ErrVanadiumMismatch, sample.BankID, len(sample.Y), len(vanadium.Y))
	}
	out := sample.clone()
	for i, y := range sample.Y {
		v := vanadium.Y[i]
		if math.Abs(v) < zeroTolerance {
			out.Y[i] = 0
			out.E[i] = 0
			continue
		}
		ratio := y / v
		rel := 1.0
		if math.Abs(y) >= zeroTolerance {
			rel = sample.E[i] / y
		}
		relV := vanadium.E[i] / v
		out.Y[i] = ratio
		out.E[i] = math.Abs(ratio) * math.Sqrt(rel*rel+relV*relV)
	}
	return out, nil
}
