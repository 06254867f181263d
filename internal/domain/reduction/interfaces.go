package reduction

import (
	"context"
	"time"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/calibration"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
)

// Calibrations resolves the calibration bundle of a run.
type Calibrations interface {
	Bundle(ctx context.Context, runDate time.Time, bankCount int) (*calibration.Bundle, error)
}

// Trackers records reduction progress.
type Trackers interface {
	Open(ctx context.Context, key tracker.Key) (*tracker.Tracker, error)
	Advance(ctx context.Context, key tracker.Key, to tracker.State, message string) (*tracker.Tracker, error)
	Finish(ctx context.Context, key tracker.Key, message string) (*tracker.Tracker, error)
	RecordArtifact(ctx context.Context, key tracker.Key, target, path string) error
}

// Sink stores written GSAS files and returns where they landed.
type Sink interface {
	Put(ctx context.Context, rel string, data []byte) (string, error)
	Exists(rel string) (bool, error)
}
