package memengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/neutrons/PyVDrive-sub000/internal/engine"
)

// EventFile is the columnar event dump LoadEventStream reads. Times are
// seconds since RunStart. Files ending in ".zst" are zstd compressed.
type EventFile struct {
	RunNumber int       `json:"run_number"`
	IPTS      int       `json:"ipts"`
	Title     string    `json:"title"`
	RunStart  time.Time `json:"run_start"`
	Duration  float64   `json:"duration"`
	// ProtonCharge holds the pulse times of the proton-charge log.
	ProtonCharge []float64           `json:"proton_charge,omitempty"`
	Logs         map[string]LogSeries `json:"logs,omitempty"`
	Events       Events              `json:"events"`
}

// LogSeries is a sample log: Values[i] holds from Times[i] to Times[i+1].
type LogSeries struct {
	Times  []float64 `json:"times"`
	Values []float64 `json:"values"`
}

// Events are neutron events in columns.
type Events struct {
	Pulse    []float64 `json:"pulse"`
	TOF      []float64 `json:"tof"`
	Detector []int     `json:"detector"`
}

// Len returns the number of events.
func (e Events) Len() int { return len(e.TOF) }

func (f *EventFile) validate() error {
	n := f.Events.Len()
	if len(f.Events.Pulse) != n || len(f.Events.Detector) != n {
		return fmt.Errorf("%w: event columns have %d pulses, %d tofs, %d detectors",
			ErrMalformedEvents, len(f.Events.Pulse), n, len(f.Events.Detector))
	}
	for name, l := range f.Logs {
		if len(l.Times) != len(l.Values) {
			return fmt.Errorf("%w: log %s has %d times and %d values", ErrMalformedEvents, name, len(l.Times), len(l.Values))
		}
	}
	return nil
}

// ReadEventFile decodes an event dump. A missing file is reported as
// engine.ErrSourceUnavailable.
func ReadEventFile(path string) (*EventFile, error) {
	fh, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", engine.ErrSourceUnavailable, path)
	}
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var r io.Reader = fh
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(fh)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var f EventFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvents, path, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteEventFile encodes f to path, zstd compressed for ".zst" paths.
func WriteEventFile(path string, f *EventFile) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fh.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = fh
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(fh)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}
	return json.NewEncoder(w).Encode(f)
}
