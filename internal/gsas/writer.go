// Package gsas writes focused spectra as VULCAN-flavoured GSAS powder
// diffraction files.
package gsas

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

const lineWidth = 80

// Writer serializes focused banks. IParm and FileName only feed the header.
type Writer struct {
	IParm    string
	FileName string
}

// Options selects the optional processing steps of Write.
type Options struct {
	// Vanadium, when set, holds one spectrum per bank to normalize by.
	Vanadium []Spectrum
	// Align rebins every bank onto its phase reference grid first.
	Align bool
}

// Write renders spectra into a GSAS buffer. Banks are written in order.
func (w Writer) Write(spectra []Spectrum, meta Metadata, opts Options) ([]byte, error) {
	if len(spectra) == 0 {
		return nil, fmt.Errorf("%w: no banks", ErrInvalidSpectrum)
	}
	start, stop, err := meta.PulseWindow()
	if err != nil {
		return nil, err
	}
	for _, s := range spectra {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Vanadium != nil && len(opts.Vanadium) != len(spectra) {
		return nil, fmt.Errorf("%w: %d banks, %d vanadium spectra", ErrVanadiumMismatch, len(spectra), len(opts.Vanadium))
	}

	banks := spectra
	vanadium := opts.Vanadium
	if opts.Align {
		runDate := meta.RunStart
		if runDate.IsZero() {
			runDate = start
		}
		if banks, err = AlignToReference(spectra, runDate); err != nil {
			return nil, err
		}
		if vanadium != nil {
			if vanadium, err = AlignToReference(vanadium, runDate); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	line := func(format string, args ...any) {
		s := fmt.Sprintf(format, args...)
		if len(s) > lineWidth {
			s = s[:lineWidth]
		}
		fmt.Fprintf(&buf, "%-80s\n", s)
	}

	line("%s", meta.Title)
	line("Instrument parameter file: %s", w.IParm)
	line("#IPTS: %d", meta.IPTS)
	line("#RUN: %d", meta.RunNumber)
	line("#binned by: VDRIVE")
	line("#GSAS file name: %s", filepath.Base(w.FileName))
	line("#GSAS IPARM file: %s", w.IParm)
	line("#Pulsestart:    %d", PulseNanos(start))
	line("#Pulsestop:     %d", PulseNanos(stop))
	line("#")

	for i, s := range banks {
		normalized := false
		if vanadium != nil {
			if s, err = Normalize(s, vanadium[i]); err != nil {
				return nil, err
			}
			normalized = true
		}
		bankID := s.BankID
		if bankID == 0 {
			bankID = i + 1
		}
		writeBank(line, bankID, s, normalized)
	}
	return buf.Bytes(), nil
}

func writeBank(line func(string, ...any), bankID int, s Spectrum, normalized bool) {
	g := s.Geometry.Derive()
	nobs := len(s.Y)
	x0, x1 := s.X[0], s.X[1]

	line("# Total flight path %.4f m, tth %.4f deg, DIFC %.1f", g.L1+g.L2, g.TwoTheta, g.DIFC)
	line("# Data for spectrum :%d", bankID)
	line("BANK %d %d %d SLOG %.1f %.1f %.7f 0 FXYE", bankID, nobs, nobs, x0, s.X[len(s.X)-1], (x1-x0)/x0)

	format := "%12.1f%12.1f%12.2f"
	if normalized {
		format = "%12.1f%12.5f%12.5f"
	}
	for i := 0; i < nobs; i++ {
		line(format, s.X[i], s.Y[i], s.E[i])
	}
}

// Lines splits a GSAS buffer into its lines with trailing padding removed.
func Lines(data []byte) []string {
	raw := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for i, l := range raw {
		raw[i] = strings.TrimRight(l, " ")
	}
	return raw
}
