package gsas

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Resolution selects one of the two reference binnings of a phase.
type Resolution int

const (
	LowResolution Resolution = iota
	HighResolution
)

func (r Resolution) String() string {
	if r == HighResolution {
		return "high"
	}
	return "low"
}

// LogBinning describes a logarithmic TOF grid: x[k+1] = x[k]*(1+Step).
type LogBinning struct {
	Min  float64
	Step float64
	Max  float64
}

// Edges expands the grid into bin edges. The last edge is Max.
func (b LogBinning) Edges() []float64 {
	if b.Min <= 0 || b.Step <= 0 || b.Max <= b.Min {
		return nil
	}
	edges := []float64{b.Min}
	for x := b.Min * (1 + b.Step); x < b.Max; x *= 1 + b.Step {
		edges = append(edges, x)
	}
	return append(edges, b.Max)
}

// Phase is an instrument configuration period with its reference binnings.
type Phase struct {
	Name  string
	Since time.Time
	Low   LogBinning
	High  LogBinning
}

// Binning returns the reference binning for r.
func (p Phase) Binning(r Resolution) LogBinning {
	if r == HighResolution {
		return p.High
	}
	return p.Low
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// phases is ordered by Since.
var phases = []Phase{
	{
		Name:  "vulcan",
		Since: time.Time{},
		Low:   LogBinning{Min: 5000, Step: 0.001, Max: 70000},
		High:  LogBinning{Min: 5000, Step: 0.0005, Max: 70000},
	},
	{
		Name:  "vulcan-2017",
		Since: date(2017, time.May, 1),
		Low:   LogBinning{Min: 3000, Step: 0.001, Max: 70000},
		High:  LogBinning{Min: 3000, Step: 0.0003, Max: 70000},
	},
	{
		Name:  "vulcan-x",
		Since: date(2019, time.June, 1),
		Low:   LogBinning{Min: 2000, Step: 0.001, Max: 75000},
		High:  LogBinning{Min: 2000, Step: 0.0003, Max: 75000},
	},
}

// PhaseAt returns the instrument phase in effect on runDate.
func PhaseAt(runDate time.Time) Phase {
	i := sort.Search(len(phases), func(i int) bool { return phases[i].Since.After(runDate) })
	if i == 0 {
		return phases[0]
	}
	return phases[i-1]
}

// BankResolution maps a 1-based bank of a focused layout onto its physical
// group: east and west banks use the low resolution grid, the
// back-scattering bank the high resolution one.
func BankResolution(bankCount, bank int) (Resolution, error) {
	if bank < 1 || bank > bankCount {
		return 0, fmt.Errorf("%w: bank %d of %d", ErrUnknownBankLayout, bank, bankCount)
	}
	switch bankCount {
	case 2:
		return LowResolution, nil
	case 3:
		if bank == 3 {
			return HighResolution, nil
		}
		return LowResolution, nil
	case 7:
		if bank == 7 {
			return HighResolution, nil
		}
		return LowResolution, nil
	case 27:
		if bank > 18 {
			return HighResolution, nil
		}
		return LowResolution, nil
	}
	return 0, fmt.Errorf("%w: %d banks", ErrUnknownBankLayout, bankCount)
}

// RebinParams turns edges into (x_i, dx_i) pairs followed by the last
// edge, a bin width equal to the previous one and the extrapolated final
// edge.
func RebinParams(edges []float64) []float64 {
	n := len(edges)
	if n < 2 {
		return nil
	}
	params := make([]float64, 0, 2*n+1)
	for i := 0; i < n-1; i++ {
		params = append(params, edges[i], edges[i+1]-edges[i])
	}
	last := edges[n-1] - edges[n-2]
	return append(params, edges[n-1], last, edges[n-1]+last)
}

// ParamEdges expands rebin parameters (x0, dx0, x1, dx1, ..., xn) into
// edges. A negative width is a logarithmic step.
func ParamEdges(params []float64) ([]float64, error) {
	if len(params) < 3 || len(params)%2 == 0 {
		return nil, fmt.Errorf("%w: %d rebin parameters", ErrInvalidSpectrum, len(params))
	}
	var edges []float64
	for j := 0; j+2 < len(params); j += 2 {
		start, dx, end := params[j], params[j+1], params[j+2]
		if dx == 0 || end <= start || (dx < 0 && start <= 0) {
			return nil, fmt.Errorf("%w: rebin range [%g, %g) step %g", ErrInvalidSpectrum, start, end, dx)
		}
		tol := 1e-9 * math.Abs(end)
		for x := start; x < end-tol; {
			edges = append(edges, x)
			if dx > 0 {
				x += dx
			} else {
				x *= 1 - dx
			}
		}
	}
	return append(edges, params[len(params)-1]), nil
}

// Rebin redistributes s onto edges, conserving counts. Errors of
// partially covered bins scale with the covered fraction and combine in
// quadrature.
func Rebin(s Spectrum, edges []float64) Spectrum {
	old := s.X
	if !s.IsHistogram() {
		old = pointEdges(s.X)
	}
	n := len(edges) - 1
	out := Spectrum{BankID: s.BankID, Geometry: s.Geometry, X: append([]float64(nil), edges...)}
	if n < 1 {
		return out
	}
	out.Y = make([]float64, n)
	out.E = make([]float64, n)
	e2 := make([]float64, n)

	j := 0
	for i := 0; i < len(s.Y); i++ {
		lo, hi := old[i], old[i+1]
		width := hi - lo
		if width <= 0 {
			continue
		}
		for j < n && edges[j+1] <= lo {
			j++
		}
		for k := j; k < n && edges[k] < hi; k++ {
			a := math.Max(lo, edges[k])
			b := math.Min(hi, edges[k+1])
			if b <= a {
				continue
			}
			frac := (b - a) / width
			out.Y[k] += s.Y[i] * frac
			e2[k] += s.E[i] * s.E[i] * frac
		}
	}
	for k := range e2 {
		out.E[k] = math.Sqrt(e2[k])
	}
	return out
}

// AlignToReference rebins every spectrum onto the reference grid of its
// bank group in the phase active on runDate.
func AlignToReference(spectra []Spectrum, runDate time.Time) ([]Spectrum, error) {
	phase := PhaseAt(runDate)
	out := make([]Spectrum, len(spectra))
	for i, s := range spectra {
		res, err := BankResolution(len(spectra), i+1)
		if err != nil {
			return nil, err
		}
		edges, err := ParamEdges(RebinParams(phase.Binning(res).Edges()))
		if err != nil {
			return nil, err
		}
		out[i] = Rebin(s, edges)
	}
	return out, nil
}

func pointEdges(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{x[0] - 0.5, x[0] + 0.5}
	}
	edges := make([]float64, n+1)
	for i := 1; i < n; i++ {
		edges[i] = 0.5 * (x[i-1] + x[i])
	}
	edges[0] = x[0] - (edges[1] - x[0])
	edges[n] = x[n-1] + (x[n-1] - edges[n-1])
	return edges
}
