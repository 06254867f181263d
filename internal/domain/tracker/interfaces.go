package tracker

import "context"

// TrackerRepository provides persistence for trackers.
type TrackerRepository interface {
	Create(ctx context.Context, t *Tracker) error
	Get(ctx context.Context, key Key) (*Tracker, error)
	Update(ctx context.Context, t *Tracker, expectedVersion int64) error
	AddArtifact(ctx context.Context, trackerID string, a Artifact) error
	ListByRun(ctx context.Context, runNumber int) ([]Tracker, error)
}

// HistoryRepository appends and reads tracker history.
type HistoryRepository interface {
	Append(ctx context.Context, e *Event) error
	List(ctx context.Context, trackerID string) ([]Event, error)
}
