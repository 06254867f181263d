package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
)

// HistoryRepository implements tracker.HistoryRepository for SQLite
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts a new history entry
func (r *HistoryRepository) Append(ctx context.Context, e *tracker.Event) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO tracker_history (tracker_id, from_state, to_state, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, e.TrackerID, e.From, e.To, e.Message, createdAt)
	if err != nil {
		return translate(err, "append history")
	}

	id, err := result.LastInsertId()
	if err == nil {
		e.ID = id
	}
	e.CreatedAt = createdAt

	return nil
}

// List returns the history of a tracker, oldest first
func (r *HistoryRepository) List(ctx context.Context, trackerID string) ([]tracker.Event, error) {
	query := `
		SELECT id, tracker_id, from_state, to_state, message, created_at
		FROM tracker_history
		WHERE tracker_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, trackerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var events []tracker.Event
	for rows.Next() {
		var e tracker.Event
		if err := rows.Scan(&e.ID, &e.TrackerID, &e.From, &e.To, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	return events, nil
}

var _ tracker.HistoryRepository = (*HistoryRepository)(nil)
