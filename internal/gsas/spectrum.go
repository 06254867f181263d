package gsas

import (
	"fmt"
	"math"
)

// Physical constants (CODATA 2018).
const (
	NeutronMass   = 1.67492749804e-27 // kg
	PlanckH       = 6.62607015e-34    // J s
	difcUnitScale = 1e4
)

// Vec3 is a position in meters.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Spherical returns the point at distance r, polar angle polar and azimuthal
// angle azimuthal (degrees) with the beam along +Z.
func Spherical(r, polar, azimuthal float64) Vec3 {
	p := polar * math.Pi / 180
	a := azimuthal * math.Pi / 180
	return Vec3{
		X: r * math.Sin(p) * math.Cos(a),
		Y: r * math.Sin(p) * math.Sin(a),
		Z: r * math.Cos(p),
	}
}

// Geometry locates the source, sample and focused detector of one bank.
type Geometry struct {
	Source   Vec3
	Sample   Vec3
	Detector Vec3
}

// Derived is the flight geometry of one bank.
type Derived struct {
	L1       float64
	L2       float64
	TwoTheta float64 // degrees
	DIFC     float64
}

// Derive computes L1, L2, 2theta and DIFC from the positions.
func (g Geometry) Derive() Derived {
	beam := g.Sample.Sub(g.Source)
	scatter := g.Detector.Sub(g.Sample)
	l1 := beam.Norm()
	l2 := scatter.Norm()

	var twoTheta float64
	if l1 > 0 && l2 > 0 {
		c := beam.Dot(scatter) / (l1 * l2)
		c = math.Max(-1, math.Min(1, c))
		twoTheta = math.Acos(c)
	}
	return Derived{
		L1:       l1,
		L2:       l2,
		TwoTheta: twoTheta * 180 / math.Pi,
		DIFC:     DIFC(l1, l2, twoTheta*180/math.Pi),
	}
}

// DIFC returns the diffractometer constant for flight paths in meters and
// a scattering angle in degrees.
func DIFC(l1, l2, twoTheta float64) float64 {
	theta := 0.5 * twoTheta * math.Pi / 180
	return 2 * NeutronMass * math.Sin(theta) * (l1 + l2) / (PlanckH * difcUnitScale)
}

// Spectrum is one focused bank.
type Spectrum struct {
	BankID int
	// X holds bin edges (len(Y)+1) or points (len(Y)), in TOF microseconds.
	X        []float64
	Y        []float64
	E        []float64
	Geometry Geometry
}

// IsHistogram reports whether X holds bin edges.
func (s Spectrum) IsHistogram() bool { return len(s.X) == len(s.Y)+1 }

// Validate checks vector lengths and that the TOF axis can be written.
func (s Spectrum) Validate() error {
	if len(s.Y) == 0 {
		return fmt.Errorf("%w: bank %d is empty", ErrInvalidSpectrum, s.BankID)
	}
	if len(s.Y) != len(s.E) {
		return fmt.Errorf("%w: bank %d has %d intensities and %d errors", ErrInvalidSpectrum, s.BankID, len(s.Y), len(s.E))
	}
	if len(s.X) != len(s.Y) && len(s.X) != len(s.Y)+1 {
		return fmt.Errorf("%w: bank %d has %d x values for %d intensities", ErrInvalidSpectrum, s.BankID, len(s.X), len(s.Y))
	}
	if len(s.X) < 2 || !(s.X[0] > 0) {
		return fmt.Errorf("%w: bank %d needs at least two positive TOF values", ErrInvalidSpectrum, s.BankID)
	}
	return nil
}

func (s Spectrum) clone() Spectrum {
	out := s
	out.X = append([]float64(nil), s.X...)
	out.Y = append([]float64(nil), s.Y...)
	out.E = append([]float64(nil), s.E...)
	return out
}
