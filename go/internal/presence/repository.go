package presence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/egregor-app/egregor/go/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// joined_at is preserved on conflict: a rejoin while the row still exists
// keeps the original join time. Timestamps come from the database clock.
const upsertQuery = `
INSERT INTO event_presence (event_id, user_id, joined_at, last_seen_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (event_id, user_id) DO UPDATE SET last_seen_at = now()
RETURNING event_id, user_id, joined_at, last_seen_at`

const deleteQuery = `
DELETE FROM event_presence
WHERE event_id = $1 AND user_id = $2`

const listQuery = `
SELECT event_id, user_id, joined_at, last_seen_at
FROM event_presence
WHERE event_id = $1
ORDER BY joined_at, user_id`

// Join upserts the viewer's presence row, refreshing last_seen_at.
func (r *Repository) Join(ctx context.Context, eventID, userID uuid.UUID) (*models.PresenceRow, error) {
	row, err := r.upsert(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to join event: %w", err)
	}
	return row, nil
}

// Heartbeat refreshes last_seen_at, leaving joined_at untouched. It
// recreates the row if it vanished underneath a joined viewer.
func (r *Repository) Heartbeat(ctx context.Context, eventID, userID uuid.UUID) (*models.PresenceRow, error) {
	row, err := r.upsert(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to heartbeat: %w", err)
	}
	return row, nil
}

func (r *Repository) upsert(ctx context.Context, eventID, userID uuid.UUID) (*models.PresenceRow, error) {
	var row models.PresenceRow
	err := r.db.QueryRowContext(ctx, upsertQuery, eventID, userID).Scan(
		&row.EventID,
		&row.UserID,
		&row.JoinedAt,
		&row.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Leave deletes the row outright. Distinct from going idle: an explicit
// leave is permanent until rejoin, and a rejoin gets a fresh joined_at.
func (r *Repository) Leave(ctx context.Context, eventID, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, deleteQuery, eventID, userID); err != nil {
		return fmt.Errorf("failed to leave event: %w", err)
	}
	return nil
}

// List returns the full presence snapshot for an event.
func (r *Repository) List(ctx context.Context, eventID uuid.UUID) ([]models.PresenceRow, error) {
	rows, err := r.db.QueryContext(ctx, listQuery, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}
	defer rows.Close()

	var out []models.PresenceRow
	for rows.Next() {
		var row models.PresenceRow
		if err := rows.Scan(&row.EventID, &row.UserID, &row.JoinedAt, &row.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan presence row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate presence rows: %w", err)
	}
	return out, nil
}
