package engine

import (
	"context"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/calibration"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
)

// LogFilter binds an engine to one loaded run so it can serve log-value
// splitter generation.
type LogFilter struct {
	Engine Engine
	Handle Handle
}

// GenerateLogFilter implements splitter.LogFilterGenerator.
func (l LogFilter) GenerateLogFilter(ctx context.Context, q splitter.LogThreshold) (splitter.Set, error) {
	set, err := l.Engine.GenerateLogFilter(ctx, l.Handle, q)
	if err != nil {
		return splitter.Set{}, Wrap("GenerateLogFilter", l.Handle, err)
	}
	return set, nil
}

var _ splitter.LogFilterGenerator = LogFilter{}

// CalibrationLoader loads calibration files through the engine.
type CalibrationLoader struct {
	Engine Engine
}

// Find reports whether all named calibration artifacts are already loaded.
func (c CalibrationLoader) Find(ctx context.Context, names calibration.Names) (bool, error) {
	for _, name := range []string{names.Calibration, names.Grouping, names.Mask} {
		ok, err := c.Engine.Has(ctx, name)
		if err != nil {
			return false, Wrap("Has", Handle(name), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Load loads the entry's files under the calibration prefix.
func (c CalibrationLoader) Load(ctx context.Context, entry calibration.Entry, names calibration.Names) error {
	err := c.Engine.LoadDiffCal(ctx, CalibrationFiles{
		Calibration: entry.Files.Calibration,
		Grouping:    entry.Files.Grouping,
		Mask:        entry.Files.Mask,
	}, names.Prefix)
	return Wrap("LoadDiffCal", Handle(names.Calibration), err)
}

var _ calibration.Loader = CalibrationLoader{}
