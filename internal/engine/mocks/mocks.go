package mocks

import (
	"context"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
	"github.com/stretchr/testify/mock"
)

// Engine is a mock for engine.Engine.
type Engine struct {
	mock.Mock
}

func (m *Engine) LoadEventStream(ctx context.Context, path string) (engine.Handle, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(engine.Handle), args.Error(1)
}

func (m *Engine) RunInfo(ctx context.Context, h engine.Handle) (engine.RunInfo, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(engine.RunInfo), args.Error(1)
}

func (m *Engine) GenerateLogFilter(ctx context.Context, h engine.Handle, q splitter.LogThreshold) (splitter.Set, error) {
	args := m.Called(ctx, h, q)
	return args.Get(0).(splitter.Set), args.Error(1)
}

func (m *Engine) FilterEvents(ctx context.Context, h engine.Handle, set splitter.Set) (map[splitter.Target]engine.Handle, error) {
	args := m.Called(ctx, h, set)
	if out, ok := args.Get(0).(map[splitter.Target]engine.Handle); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Engine) EventCount(ctx context.Context, h engine.Handle) (int64, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(int64), args.Error(1)
}

func (m *Engine) ConvertUnit(ctx context.Context, h engine.Handle, unit engine.Unit) error {
	args := m.Called(ctx, h, unit)
	return args.Error(0)
}

func (m *Engine) AlignAndFocus(ctx context.Context, h engine.Handle, p engine.FocusParams) (engine.Handle, error) {
	args := m.Called(ctx, h, p)
	return args.Get(0).(engine.Handle), args.Error(1)
}

func (m *Engine) CompressEvents(ctx context.Context, h engine.Handle, tolerance float64) error {
	args := m.Called(ctx, h, tolerance)
	return args.Error(0)
}

func (m *Engine) Histograms(ctx context.Context, h engine.Handle) ([]engine.Histogram, error) {
	args := m.Called(ctx, h)
	if out, ok := args.Get(0).([]engine.Histogram); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Engine) Has(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *Engine) LoadDiffCal(ctx context.Context, files engine.CalibrationFiles, prefix string) error {
	args := m.Called(ctx, files, prefix)
	return args.Error(0)
}

func (m *Engine) Delete(ctx context.Context, h engine.Handle) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

var _ engine.Engine = (*Engine)(nil)
