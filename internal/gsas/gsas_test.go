package gsas_test

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/neutrons/PyVDrive-sub000/internal/gsas"
	"github.com/stretchr/testify/require"
)

func bankGeometry(polar float64) gsas.Geometry {
	return gsas.Geometry{
		Source:   gsas.Vec3{Z: -43.754},
		Detector: gsas.Spherical(2.0, polar, 0),
	}
}

func sampleSpectrum(bank int) gsas.Spectrum {
	return gsas.Spectrum{
		BankID:   bank,
		X:        []float64{1000, 1010, 1020},
		Y:        []float64{5, 7},
		E:        []float64{math.Sqrt(5), math.Sqrt(7)},
		Geometry: bankGeometry(90),
	}
}

func TestDerive(t *testing.T) {
	d := bankGeometry(90).Derive()
	require.InDelta(t, 43.754, d.L1, 1e-12)
	require.InDelta(t, 2.0, d.L2, 1e-12)
	require.InDelta(t, 90.0, d.TwoTheta, 1e-9)
	require.InDelta(t, 16356.3, d.DIFC, 1)

	west := bankGeometry(-90).Derive()
	require.InDelta(t, 90.0, west.TwoTheta, 1e-9)
	require.Equal(t, d.DIFC, west.DIFC)

	require.Equal(t, gsas.DIFC(43.754, 2, 150), gsas.DIFC(43.754, 2, 150))
	require.Greater(t, bankGeometry(150).Derive().DIFC, d.DIFC)
}

func TestMetadata_PulseWindow(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)

	_, _, err := gsas.Metadata{}.PulseWindow()
	require.ErrorIs(t, err, gsas.ErrMissingTimeMetadata)

	start, stop, err := gsas.Metadata{RunStart: t0, Duration: time.Minute}.PulseWindow()
	require.NoError(t, err)
	require.Equal(t, t0, start)
	require.Equal(t, t0.Add(time.Minute), stop)

	pulses := []time.Time{t0.Add(2 * time.Second), t0.Add(time.Second), t0.Add(50 * time.Second)}
	start, stop, err = gsas.Metadata{RunStart: t0, Duration: time.Minute, PulseTimes: pulses}.PulseWindow()
	require.NoError(t, err)
	require.Equal(t, t0.Add(time.Second), start)
	require.Equal(t, t0.Add(50*time.Second), stop)
}

func TestMetadata_Slice(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)
	meta := gsas.Metadata{
		RunNumber:  170000,
		RunStart:   t0,
		Duration:   2 * time.Minute,
		PulseTimes: []time.Time{t0, t0.Add(30 * time.Second), t0.Add(60 * time.Second), t0.Add(90 * time.Second)},
	}
	s := meta.Slice(60, 120)
	require.Equal(t, t0.Add(time.Minute), s.RunStart)
	require.Equal(t, time.Minute, s.Duration)
	require.Empty(t, s.PulseTimes)
	require.Equal(t, 170000, s.RunNumber)

	start, stop, err := s.PulseWindow()
	require.NoError(t, err)
	require.Equal(t, t0.Add(time.Minute), start)
	require.Equal(t, t0.Add(2*time.Minute), stop)
	require.Len(t, meta.PulseTimes, 4)
}

func TestPulseNanos(t *testing.T) {
	require.Equal(t, int64(0), gsas.PulseNanos(gsas.PulseEpoch))
	require.Equal(t, int64(86400e9), gsas.PulseNanos(gsas.PulseEpoch.Add(24*time.Hour)))
}

func TestWriter_Header(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)
	w := gsas.Writer{IParm: "vulcan.prm", FileName: "/out/170000/1.gda"}
	data, err := w.Write([]gsas.Spectrum{sampleSpectrum(1)}, gsas.Metadata{
		RunNumber: 170000, IPTS: 22752, Title: "Si powder", RunStart: t0, Duration: time.Minute,
	}, gsas.Options{})
	require.NoError(t, err)

	raw := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for _, l := range raw {
		require.Len(t, l, 80)
	}

	lines := gsas.Lines(data)
	require.Equal(t, []string{
		"Si powder",
		"Instrument parameter file: vulcan.prm",
		"#IPTS: 22752",
		"#RUN: 170000",
		"#binned by: VDRIVE",
		"#GSAS file name: 1.gda",
		"#GSAS IPARM file: vulcan.prm",
		fmt.Sprintf("#Pulsestart:    %d", gsas.PulseNanos(t0)),
		fmt.Sprintf("#Pulsestop:     %d", gsas.PulseNanos(t0)+60e9),
		"#",
	}, lines[:10])
}

func TestWriter_Bank(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)
	data, err := gsas.Writer{}.Write([]gsas.Spectrum{sampleSpectrum(1), sampleSpectrum(2)},
		gsas.Metadata{RunStart: t0, Duration: time.Minute}, gsas.Options{})
	require.NoError(t, err)

	lines := gsas.Lines(data)[10:]
	require.Equal(t, fmt.Sprintf("# Total flight path 45.7540 m, tth 90.0000 deg, DIFC %.1f", bankGeometry(90).Derive().DIFC), lines[0])
	require.Equal(t, "# Data for spectrum :1", lines[1])
	require.Equal(t, "BANK 1 2 2 SLOG 1000.0 1020.0 0.0100000 0 FXYE", lines[2])
	require.Equal(t, "      1000.0         5.0        2.24", lines[3])
	require.Equal(t, "      1010.0         7.0        2.65", lines[4])
	require.Equal(t, "BANK 2 2 2 SLOG 1000.0 1020.0 0.0100000 0 FXYE", lines[7])
}

func TestWriter_Rejects(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)
	meta := gsas.Metadata{RunStart: t0, Duration: time.Minute}

	_, err := gsas.Writer{}.Write(nil, meta, gsas.Options{})
	require.ErrorIs(t, err, gsas.ErrInvalidSpectrum)

	_, err = gsas.Writer{}.Write([]gsas.Spectrum{sampleSpectrum(1)}, gsas.Metadata{}, gsas.Options{})
	require.ErrorIs(t, err, gsas.ErrMissingTimeMetadata)

	bad := sampleSpectrum(1)
	bad.E = bad.E[:1]
	_, err = gsas.Writer{}.Write([]gsas.Spectrum{bad}, meta, gsas.Options{})
	require.ErrorIs(t, err, gsas.ErrInvalidSpectrum)

	_, err = gsas.Writer{}.Write([]gsas.Spectrum{sampleSpectrum(1)}, meta, gsas.Options{Vanadium: []gsas.Spectrum{}})
	require.ErrorIs(t, err, gsas.ErrVanadiumMismatch)
}

func TestWriter_Vanadium(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)
	van := sampleSpectrum(1)
	van.Y = []float64{2, 0}
	van.E = []float64{0.1, 0}

	data, err := gsas.Writer{}.Write([]gsas.Spectrum{sampleSpectrum(1)},
		gsas.Metadata{RunStart: t0, Duration: time.Minute}, gsas.Options{Vanadium: []gsas.Spectrum{van}})
	require.NoError(t, err)

	lines := gsas.Lines(data)
	require.Equal(t, "      1000.0     2.50000     1.12500", lines[13])
	require.Equal(t, "      1010.0     0.00000     0.00000", lines[14])
}

func TestNormalize_RoundTrip(t *testing.T) {
	sample := gsas.Spectrum{
		X: []float64{1000, 1001, 1002, 1003, 1004},
		Y: []float64{10, 0, 3.5, 120},
		E: []float64{3, 0, 1.2, 11},
	}
	van := gsas.Spectrum{
		X: sample.X,
		Y: []float64{4, 5, 0.25, 60},
		E: []float64{2, 2.2, 0.5, 7.7},
	}
	norm, err := gsas.Normalize(sample, van)
	require.NoError(t, err)
	for i := range sample.Y {
		require.InDelta(t, sample.Y[i], norm.Y[i]*van.Y[i], 1e-9)
	}
	require.Equal(t, []float64{10, 0, 3.5, 120}, sample.Y)

	require.Zero(t, norm.Y[1])
	require.Zero(t, norm.E[1])

	_, err = gsas.Normalize(sample, gsas.Spectrum{Y: []float64{1}, E: []float64{1}})
	require.ErrorIs(t, err, gsas.ErrVanadiumMismatch)
}

func TestNormalize_Errors(t *testing.T) {
	sample := gsas.Spectrum{X: []float64{1, 2}, Y: []float64{100}, E: []float64{10}}
	van := gsas.Spectrum{X: []float64{1, 2}, Y: []float64{50}, E: []float64{5}}
	norm, err := gsas.Normalize(sample, van)
	require.NoError(t, err)
	require.InDelta(t, 2.0, norm.Y[0], 1e-12)
	require.InDelta(t, 2.0*math.Sqrt(0.01+0.01), norm.E[0], 1e-12)
}

func TestRebinParams(t *testing.T) {
	require.Nil(t, gsas.RebinParams([]float64{1}))

	params := gsas.RebinParams([]float64{1, 2, 4})
	require.Equal(t, []float64{1, 1, 2, 2, 4, 2, 6}, params)

	edges, err := gsas.ParamEdges(params)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 4, 6}, edges)

	edges, err = gsas.ParamEdges([]float64{1000, -0.5, 3000})
	require.NoError(t, err)
	require.Equal(t, []float64{1000, 1500, 2250, 3000}, edges)

	_, err = gsas.ParamEdges([]float64{1, 2})
	require.ErrorIs(t, err, gsas.ErrInvalidSpectrum)
	_, err = gsas.ParamEdges([]float64{5, 1, 1})
	require.ErrorIs(t, err, gsas.ErrInvalidSpectrum)
	// A logarithmic step cannot start at or below zero.
	_, err = gsas.ParamEdges([]float64{0, -0.001, 100})
	require.ErrorIs(t, err, gsas.ErrInvalidSpectrum)
	_, err = gsas.ParamEdges([]float64{-10, -0.001, 100})
	require.ErrorIs(t, err, gsas.ErrInvalidSpectrum)
}

func TestRebin_ConservesCounts(t *testing.T) {
	s := gsas.Spectrum{
		X: []float64{0, 1, 2, 3, 4},
		Y: []float64{4, 8, 2, 6},
		E: []float64{2, math.Sqrt(8), math.Sqrt(2), math.Sqrt(6)},
	}
	out := gsas.Rebin(s, []float64{0, 2, 4})
	require.Equal(t, []float64{12, 8}, out.Y)
	require.InDelta(t, math.Sqrt(12), out.E[0], 1e-12)

	half := gsas.Rebin(s, []float64{0.5, 1.5})
	require.InDelta(t, 6.0, half.Y[0], 1e-12)
	require.InDelta(t, math.Sqrt(0.5*4+0.5*8), half.E[0], 1e-12)
}

func TestBankResolution(t *testing.T) {
	cases := []struct {
		banks, bank int
		want        gsas.Resolution
	}{
		{2, 1, gsas.LowResolution},
		{2, 2, gsas.LowResolution},
		{3, 2, gsas.LowResolution},
		{3, 3, gsas.HighResolution},
		{7, 6, gsas.LowResolution},
		{7, 7, gsas.HighResolution},
		{27, 18, gsas.LowResolution},
		{27, 19, gsas.HighResolution},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d/%d", tc.bank, tc.banks), func(t *testing.T) {
			got, err := gsas.BankResolution(tc.banks, tc.bank)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := gsas.BankResolution(5, 1)
	require.ErrorIs(t, err, gsas.ErrUnknownBankLayout)
	_, err = gsas.BankResolution(3, 4)
	require.ErrorIs(t, err, gsas.ErrUnknownBankLayout)
}

func TestPhaseAt(t *testing.T) {
	require.Equal(t, "vulcan", gsas.PhaseAt(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)).Name)
	require.Equal(t, "vulcan-2017", gsas.PhaseAt(time.Date(2017, 5, 1, 0, 0, 0, 0, time.UTC)).Name)
	require.Equal(t, "vulcan-x", gsas.PhaseAt(time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)).Name)
}

func TestWriter_Align(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)
	s := gsas.Spectrum{
		X:        []float64{3000, 10000, 40000, 70000},
		Y:        []float64{700, 3000, 3000},
		E:        []float64{10, 20, 30},
		Geometry: bankGeometry(90),
	}
	banks := []gsas.Spectrum{s, s, s}
	data, err := gsas.Writer{}.Write(banks, gsas.Metadata{RunStart: t0, Duration: time.Minute}, gsas.Options{Align: true})
	require.NoError(t, err)

	f, err := gsas.Parse(data)
	require.NoError(t, err)
	require.Len(t, f.Banks, 3)

	low := gsas.PhaseAt(t0).Low.Edges()
	high := gsas.PhaseAt(t0).High.Edges()
	require.Equal(t, len(low), f.Banks[0].NObs)
	require.Equal(t, len(high), f.Banks[2].NObs)
	require.InDelta(t, 2000.0, f.Banks[0].BC[0], 1e-9)
	require.InDelta(t, 0.001, f.Banks[0].BC[2], 1e-7)
	require.InDelta(t, 0.0003, f.Banks[2].BC[2], 1e-7)
}

func TestParse_RoundTrip(t *testing.T) {
	t0 := time.Date(2019, time.July, 1, 8, 0, 0, 0, time.UTC)
	data, err := gsas.Writer{}.Write([]gsas.Spectrum{sampleSpectrum(3), sampleSpectrum(4)},
		gsas.Metadata{Title: "run", RunStart: t0, Duration: time.Minute}, gsas.Options{})
	require.NoError(t, err)

	f, err := gsas.Parse(data)
	require.NoError(t, err)
	require.Equal(t, "run", f.Title)
	require.Equal(t, gsas.PulseNanos(t0), f.PulseStart)
	require.Equal(t, gsas.PulseNanos(t0)+60e9, f.PulseStop)
	require.Len(t, f.Banks, 2)
	require.Equal(t, 3, f.Banks[0].ID)
	require.Equal(t, []float64{1000, 1010}, f.Banks[0].X)
	require.Equal(t, []float64{5, 7}, f.Banks[0].Y)

	s := f.Banks[0].Spectrum()
	require.True(t, s.IsHistogram())
	require.NoError(t, s.Validate())
	require.Equal(t, []float64{1000, 1010, 1020}, s.X)

	_, err = gsas.Parse([]byte("title\n      1000.0         5.0        2.24\n"))
	require.ErrorIs(t, err, gsas.ErrInvalidSpectrum)
}
