package gsas

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// File is a parsed GSAS buffer.
type File struct {
	Title      string
	PulseStart int64
	PulseStop  int64
	Banks      []Bank
}

// Bank is one parsed BANK block.
type Bank struct {
	ID   int
	NObs int
	BC   [3]float64
	X    []float64
	Y    []float64
	E    []float64
}

// Parse reads a buffer produced by Writer.Write.
func Parse(data []byte) (File, error) {
	var f File
	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	var bank *Bank
	lineNo := 0
	for sc.Scan() {
		lineNo++
		l := strings.TrimRight(sc.Text(), " ")
		switch {
		case first:
			f.Title = l
			first = false
		case strings.HasPrefix(l, "#Pulsestart:"):
			v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(l, "#Pulsestart:")), 10, 64)
			if err != nil {
				return File{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			f.PulseStart = v
		case strings.HasPrefix(l, "#Pulsestop:"):
			v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(l, "#Pulsestop:")), 10, 64)
			if err != nil {
				return File{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			f.PulseStop = v
		case strings.HasPrefix(l, "#"), strings.HasPrefix(l, "Instrument parameter file:"):
		case strings.HasPrefix(l, "BANK "):
			b, err := parseBankLine(l)
			if err != nil {
				return File{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			f.Banks = append(f.Banks, b)
			bank = &f.Banks[len(f.Banks)-1]
		default:
			if bank == nil {
				return File{}, fmt.Errorf("line %d: %w: data before BANK", lineNo, ErrInvalidSpectrum)
			}
			fields := strings.Fields(l)
			if len(fields) != 3 {
				return File{}, fmt.Errorf("line %d: %w: want 3 columns, got %d", lineNo, ErrInvalidSpectrum, len(fields))
			}
			var v [3]float64
			for i, s := range fields {
				x, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return File{}, fmt.Errorf("line %d: %w", lineNo, err)
				}
				v[i] = x
			}
			bank.X = append(bank.X, v[0])
			bank.Y = append(bank.Y, v[1])
			bank.E = append(bank.E, v[2])
		}
	}
	if err := sc.Err(); err != nil {
		return File{}, err
	}
	for _, b := range f.Banks {
		if len(b.Y) != b.NObs {
			return File{}, fmt.Errorf("%w: bank %d declares %d points, has %d", ErrInvalidSpectrum, b.ID, b.NObs, len(b.Y))
		}
	}
	return f, nil
}

func parseBankLine(l string) (Bank, error) {
	fields := strings.Fields(l)
	if len(fields) < 8 || fields[4] != "SLOG" {
		return Bank{}, fmt.Errorf("%w: malformed bank line %q", ErrInvalidSpectrum, l)
	}
	var b Bank
	var err error
	if b.ID, err = strconv.Atoi(fields[1]); err != nil {
		return Bank{}, err
	}
	if b.NObs, err = strconv.Atoi(fields[2]); err != nil {
		return Bank{}, err
	}
	for i := range b.BC {
		if b.BC[i], err = strconv.ParseFloat(fields[5+i], 64); err != nil {
			return Bank{}, err
		}
	}
	return b, nil
}

// Spectrum returns the bank as a histogram. The last bin edge is taken
// from the BANK line.
func (b Bank) Spectrum() Spectrum {
	x := make([]float64, 0, len(b.X)+1)
	x = append(x, b.X...)
	if len(b.X) > 0 {
		x = append(x, b.BC[1])
	}
	return Spectrum{
		BankID: b.ID,
		X:      x,
		Y:      append([]float64(nil), b.Y...),
		E:      append([]float64(nil), b.E...),
	}
}
