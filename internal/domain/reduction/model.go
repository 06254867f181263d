package reduction

import (
	"time"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/chunk"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
)

// SliceKind names a slicing policy.
type SliceKind string

const (
	SliceNone      SliceKind = "none"
	SliceInterval  SliceKind = "interval"
	SliceLog       SliceKind = "log"
	SliceArbitrary SliceKind = "arbitrary"
	SliceTable     SliceKind = "table"
	SliceWindows   SliceKind = "windows"
)

// Slicing selects how the run is cut into time segments.
type Slicing struct {
	Kind SliceKind `yaml:"kind" json:"kind" validate:"omitempty,oneof=none interval log arbitrary table windows"`
	// Tag names the slicer; it becomes the tracker slice key and the
	// output sub-directory. Defaults to the kind.
	Tag string `yaml:"tag" json:"tag" validate:"omitempty,excludesall=/\\"`

	// interval and windows
	Start *float64 `yaml:"start" json:"start,omitempty"`
	Stop  *float64 `yaml:"stop" json:"stop,omitempty"`
	Step  *float64 `yaml:"step" json:"step,omitempty"`

	// windows
	Window float64 `yaml:"window" json:"window,omitempty" validate:"required_if=Kind windows,gte=0"`
	Stride float64 `yaml:"stride" json:"stride,omitempty" validate:"required_if=Kind windows,gte=0"`

	// log
	Log *splitter.LogThreshold `yaml:"log" json:"log,omitempty" validate:"required_if=Kind log"`

	// arbitrary and table
	Clock    splitter.Clock   `yaml:"clock" json:"clock,omitempty" validate:"omitempty,oneof=run_relative epoch"`
	Segments []splitter.Entry `yaml:"segments" json:"segments,omitempty" validate:"required_if=Kind arbitrary"`
	Table    string           `yaml:"table" json:"table,omitempty" validate:"required_if=Kind table"`
}

// Job is one reduction request.
type Job struct {
	ID        string `yaml:"-" json:"id"`
	EventFile string `yaml:"event_file" json:"event_file" validate:"required"`
	BankCount int    `yaml:"bank_count" json:"bank_count" validate:"oneof=2 3 7 27"`

	Unit    engine.Unit `yaml:"unit" json:"unit" validate:"omitempty,oneof=TOF dSpacing"`
	Binning []float64   `yaml:"binning" json:"binning,omitempty" validate:"omitempty,min=1,max=3"`
	// Align rebins every bank onto the VDRIVE reference grid before writing.
	Align bool `yaml:"align_to_vdrive_bins" json:"align_to_vdrive_bins"`
	// Vanadium is an optional GSAS file of the vanadium run to normalize by.
	Vanadium string `yaml:"vanadium" json:"vanadium,omitempty"`

	Slicing Slicing `yaml:"slicing" json:"slicing"`

	// DryRun stops after chopping.
	DryRun bool `yaml:"dry_run" json:"dry_run"`
	// Retain keeps the raw event workspace after the job.
	Retain bool `yaml:"retain_raw" json:"retain_raw"`
}

// SetReport is the outcome of one splitter set.
type SetReport struct {
	Key       tracker.Key
	Segments  int
	Windows   []splitter.Window
	Result    chunk.Result
	Artifacts map[splitter.Target]string
	Err       error
}

// Report is the outcome of a job.
type Report struct {
	JobID     string
	RunNumber int
	Started   time.Time
	Finished  time.Time
	Sets      []SetReport
}

// Success reports whether every set completed without error.
func (r *Report) Success() bool {
	for _, s := range r.Sets {
		if s.Err != nil {
			return false
		}
	}
	return true
}
