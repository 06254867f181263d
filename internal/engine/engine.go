// Package engine defines the contract of the neutron event-processing
// engine the reduction delegates its numeric kernels to.
package engine

import (
	"context"
	"time"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
)

// Handle names a data set held by the engine.
type Handle string

// Unit is an x-axis unit of a histogram.
type Unit string

const (
	TOF      Unit = "TOF"
	DSpacing Unit = "dSpacing"
)

// Valid reports whether u is a supported unit.
func (u Unit) Valid() bool { return u == TOF || u == DSpacing }

// RunInfo is the sample metadata of a loaded event stream.
type RunInfo struct {
	RunNumber int
	IPTS      int
	Title     string
	// RunStart is zero when the run_start log is absent.
	RunStart time.Time
	// Duration in seconds; zero when absent.
	Duration float64
	// PulseTimes are the proton-charge pulse times, if logged.
	PulseTimes []time.Time
}

// FocusParams carries everything AlignAndFocus needs.
type FocusParams struct {
	CalibrationWorkspace string
	GroupingWorkspace    string
	MaskWorkspace        string
	// Binning is (width) or (min, width, max) in Unit.
	Binning []float64
	Unit    Unit

	L1          float64
	L2          []float64
	Polar       []float64
	Azimuthal   []float64
	SpectrumIDs []int
}

// Histogram is one focused spectrum read back from the engine.
type Histogram struct {
	SpectrumID int
	Unit       Unit
	X          []float64
	Y          []float64
	E          []float64
}

// CalibrationFiles are the files LoadDiffCal reads.
type CalibrationFiles struct {
	Calibration string
	Grouping    string
	Mask        string
}

// Engine is the black-box numeric kernel. Every method is synchronous and
// may run long; failures are engine specific and wrapped by callers.
type Engine interface {
	LoadEventStream(ctx context.Context, path string) (Handle, error)
	RunInfo(ctx context.Context, h Handle) (RunInfo, error)
	GenerateLogFilter(ctx context.Context, h Handle, q splitter.LogThreshold) (splitter.Set, error)
	FilterEvents(ctx context.Context, h Handle, set splitter.Set) (map[splitter.Target]Handle, error)
	EventCount(ctx context.Context, h Handle) (int64, error)
	ConvertUnit(ctx context.Context, h Handle, unit Unit) error
	AlignAndFocus(ctx context.Context, h Handle, p FocusParams) (Handle, error)
	CompressEvents(ctx context.Context, h Handle, tolerance float64) error
	Histograms(ctx context.Context, h Handle) ([]Histogram, error)
	Has(ctx context.Context, name string) (bool, error)
	LoadDiffCal(ctx context.Context, files CalibrationFiles, prefix string) error
	Delete(ctx context.Context, h Handle) error
}
