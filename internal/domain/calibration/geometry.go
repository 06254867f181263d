package calibration

import "fmt"

// VULCAN source-to-sample distance in meters.
const vulcanL1 = 43.754

// GetFocusGeometry returns the focused detector layout for a bank count.
// Only the 2, 3, 7 and 27 bank groupings exist.
func GetFocusGeometry(bankCount int) (FocusGeometry, error) {
	switch bankCount {
	case 2:
		return layout(
			[]float64{2.0, 2.0},
			[]float64{-90, 90},
		), nil
	case 3:
		return layout(
			[]float64{2.0, 2.0, 2.0},
			[]float64{-90, 90, 150},
		), nil
	case 7:
		return layout(
			repeat(2.0, 7),
			concat(repeat(-90, 3), repeat(90, 3), []float64{150}),
		), nil
	case 27:
		return layout(
			repeat(2.0, 27),
			concat(repeat(-90, 9), repeat(90, 9), repeat(150, 9)),
		), nil
	}
	return FocusGeometry{}, fmt.Errorf("%w: %d", ErrUnknownBankCount, bankCount)
}

func layout(l2, polar []float64) FocusGeometry {
	ids := make([]int, len(l2))
	for i := range ids {
		ids[i] = i + 1
	}
	return FocusGeometry{
		L1:          vulcanL1,
		L2:          l2,
		Polar:       polar,
		Azimuthal:   repeat(0, len(l2)),
		SpectrumIDs: ids,
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
