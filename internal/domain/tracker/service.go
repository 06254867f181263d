// Package tracker keeps the per (run, slice key) reduction state machine
// and the artifacts each reduction produced.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neutrons/PyVDrive-sub000/internal/repository"
)

// Manager handles tracker state transitions. Updates are serialized.
type Manager struct {
	mu       sync.Mutex
	trackers TrackerRepository
	history  HistoryRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a new tracker manager. history may be nil.
func NewManager(trackers TrackerRepository, history HistoryRepository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{trackers: trackers, history: history, logger: logger, now: time.Now}
}

// Open returns the tracker for key, creating it in the raw state.
func (m *Manager) Open(ctx context.Context, key Key) (*Tracker, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.trackers.Get(ctx, key)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("getting tracker: %w", err)
	}

	now := m.now()
	t = &Tracker{
		ID:         uuid.NewString(),
		RunNumber:  key.RunNumber,
		SliceKey:   key.SliceKey,
		State:      StateRaw,
		CreatedAt:  now,
		ModifiedAt: now,
		Version:    1,
	}
	if err := m.trackers.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("creating tracker: %w", err)
	}
	m.logEvent(ctx, t, "", StateRaw, "opened")
	return t, nil
}

// Get returns the tracker for key.
func (m *Manager) Get(ctx context.Context, key Key) (*Tracker, error) {
	t, err := m.trackers.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTrackerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting tracker: %w", err)
	}
	return t, nil
}

// Advance moves the tracker forward to state. Reaching written marks the
// reduction as reduced.
func (m *Manager) Advance(ctx context.Context, key Key, to State, message string) (*Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(t.State, to); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	from := t.State
	t.State = to
	t.Message = message
	if to == StateWritten {
		t.Reduced = true
	}
	if err := m.save(ctx, t); err != nil {
		return nil, err
	}
	m.logEvent(ctx, t, from, to, message)
	m.logger.DebugContext(ctx, "tracker advanced", "key", key.String(), "from", from, "to", to)
	return t, nil
}

// Finish marks the reduction as done at its current state. Chop-only and
// dry-run reductions end at chopped.
func (m *Manager) Finish(ctx context.Context, key Key, message string) (*Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if t.Reduced {
		return t, nil
	}
	t.Reduced = true
	t.Message = message
	if err := m.save(ctx, t); err != nil {
		return nil, err
	}
	m.logEvent(ctx, t, t.State, t.State, "finished: "+message)
	return t, nil
}

// RecordArtifact stores the output path of target.
func (m *Manager) RecordArtifact(ctx context.Context, key Key, target, path string) error {
	if path == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	a := Artifact{Target: target, Path: path, CreatedAt: m.now()}
	if err := m.trackers.AddArtifact(ctx, t.ID, a); err != nil {
		return fmt.Errorf("recording artifact: %w", err)
	}
	return nil
}

// ListByRun returns every tracker of a run.
func (m *Manager) ListByRun(ctx context.Context, runNumber int) ([]Tracker, error) {
	out, err := m.trackers.ListByRun(ctx, runNumber)
	if err != nil {
		return nil, fmt.Errorf("listing trackers: %w", err)
	}
	return out, nil
}

// History returns the transitions of the tracker for key, oldest first.
func (m *Manager) History(ctx context.Context, key Key) ([]Event, error) {
	if m.history == nil {
		return nil, nil
	}
	t, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return m.history.List(ctx, t.ID)
}

func (m *Manager) save(ctx context.Context, t *Tracker) error {
	expected := t.Version
	t.ModifiedAt = m.now()
	t.Version++
	if err := m.trackers.Update(ctx, t, expected); err != nil {
		t.Version = expected
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("%s: %w", t.Key(), err)
		}
		return fmt.Errorf("updating tracker: %w", err)
	}
	return nil
}

func (m *Manager) logEvent(ctx context.Context, t *Tracker, from, to State, message string) {
	if m.history == nil {
		return
	}
	e := &Event{TrackerID: t.ID, From: from, To: to, Message: message, CreatedAt: m.now()}
	if err := m.history.Append(ctx, e); err != nil && m.logger != nil {
		m.logger.WarnContext(ctx, "failed to append tracker history", "tracker_id", t.ID, "error", err)
	}
}
