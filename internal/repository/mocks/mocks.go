package mocks

import (
	"context"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
	"github.com/stretchr/testify/mock"
)

// TrackerRepository is a mock for tracker.TrackerRepository.
type TrackerRepository struct {
	mock.Mock
}

func (m *TrackerRepository) Create(ctx context.Context, t *tracker.Tracker) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *TrackerRepository) Get(ctx context.Context, key tracker.Key) (*tracker.Tracker, error) {
	args := m.Called(ctx, key)
	if t, ok := args.Get(0).(*tracker.Tracker); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TrackerRepository) Update(ctx context.Context, t *tracker.Tracker, expectedVersion int64) error {
	args := m.Called(ctx, t, expectedVersion)
	return args.Error(0)
}

func (m *TrackerRepository) AddArtifact(ctx context.Context, trackerID string, a tracker.Artifact) error {
	args := m.Called(ctx, trackerID, a)
	return args.Error(0)
}

func (m *TrackerRepository) ListByRun(ctx context.Context, runNumber int) ([]tracker.Tracker, error) {
	args := m.Called(ctx, runNumber)
	if list, ok := args.Get(0).([]tracker.Tracker); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// HistoryRepository is a mock for tracker.HistoryRepository.
type HistoryRepository struct {
	mock.Mock
}

func (m *HistoryRepository) Append(ctx context.Context, e *tracker.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *HistoryRepository) List(ctx context.Context, trackerID string) ([]tracker.Event, error) {
	args := m.Called(ctx, trackerID)
	if list, ok := args.Get(0).([]tracker.Event); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

var (
	_ tracker.TrackerRepository = (*TrackerRepository)(nil)
	_ tracker.HistoryRepository = (*HistoryRepository)(nil)
)
