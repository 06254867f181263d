package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
	"github.com/neutrons/PyVDrive-sub000/internal/repository"
)

// TrackerRepository implements tracker.TrackerRepository for SQLite
type TrackerRepository struct {
	db *DB
}

// NewTrackerRepository creates a new TrackerRepository
func NewTrackerRepository(db *DB) *TrackerRepository {
	return &TrackerRepository{db: db}
}

// Create inserts a new tracker
func (r *TrackerRepository) Create(ctx context.Context, t *tracker.Tracker) error {
	query := `
		INSERT INTO trackers (
			id, run_number, slice_key, state, is_reduced, message,
			created_at, modified_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.RunNumber,
		t.SliceKey,
		t.State,
		t.Reduced,
		t.Message,
		t.CreatedAt,
		t.ModifiedAt,
		t.Version,
	)
	if err != nil {
		return translate(err, "create tracker")
	}

	return nil
}

// Get retrieves a tracker and its artifacts by key
func (r *TrackerRepository) Get(ctx context.Context, key tracker.Key) (*tracker.Tracker, error) {
	query := `
		SELECT
			id, run_number, slice_key, state, is_reduced, message,
			created_at, modified_at, version
		FROM trackers
		WHERE run_number = ? AND slice_key = ?
	`

	t, err := scanTracker(r.db.QueryRowContext(ctx, query, key.RunNumber, key.SliceKey))
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}

	artifacts, err := r.artifacts(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Artifacts = artifacts
	return t, nil
}

// Update writes state changes if the stored version still matches expectedVersion
func (r *TrackerRepository) Update(ctx context.Context, t *tracker.Tracker, expectedVersion int64) error {
	query := `
		UPDATE trackers
		SET state = ?, is_reduced = ?, message = ?, modified_at = ?, version = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		t.State,
		t.Reduced,
		t.Message,
		t.ModifiedAt,
		t.Version,
		t.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update tracker: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		checkQuery := `SELECT EXISTS(SELECT 1 FROM trackers WHERE id = ?)`
		if err := r.db.QueryRowContext(ctx, checkQuery, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check tracker existence: %w", err)
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}

	return nil
}

// AddArtifact records or replaces the output path of a target
func (r *TrackerRepository) AddArtifact(ctx context.Context, trackerID string, a tracker.Artifact) error {
	query := `
		INSERT INTO tracker_artifacts (tracker_id, target, path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tracker_id, target) DO UPDATE SET path = excluded.path, created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, query, trackerID, a.Target, a.Path, a.CreatedAt)
	if err != nil {
		return translate(err, "add artifact")
	}
	return nil
}

// ListByRun returns all trackers of a run ordered by slice key
func (r *TrackerRepository) ListByRun(ctx context.Context, runNumber int) ([]tracker.Tracker, error) {
	query := `
		SELECT
			id, run_number, slice_key, state, is_reduced, message,
			created_at, modified_at, version
		FROM trackers
		WHERE run_number = ?
		ORDER BY slice_key
	`

	rows, err := r.db.QueryContext(ctx, query, runNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list trackers: %w", err)
	}
	defer rows.Close()

	var out []tracker.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracker: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracker rows: %w", err)
	}

	for i := range out {
		artifacts, err := r.artifacts(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Artifacts = artifacts
	}
	return out, nil
}

func (r *TrackerRepository) artifacts(ctx context.Context, trackerID string) ([]tracker.Artifact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT target, path, created_at FROM tracker_artifacts WHERE tracker_id = ? ORDER BY target`,
		trackerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	defer rows.Close()

	var out []tracker.Artifact
	for rows.Next() {
		var a tracker.Artifact
		if err := rows.Scan(&a.Target, &a.Path, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTracker(row rowScanner) (*tracker.Tracker, error) {
	var t tracker.Tracker
	if err := row.Scan(
		&t.ID,
		&t.RunNumber,
		&t.SliceKey,
		&t.State,
		&t.Reduced,
		&t.Message,
		&t.CreatedAt,
		&t.ModifiedAt,
		&t.Version,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

var _ tracker.TrackerRepository = (*TrackerRepository)(nil)
