package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/egregor-app/egregor/go/internal/models"
	"github.com/egregor-app/egregor/go/internal/sqlutil"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db: db,
	}
}

const createEventQuery = `
INSERT INTO events (id, title, description, host_user_id, script_id, scheduled_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())
RETURNING id, title, description, host_user_id, script_id, scheduled_at, created_at, updated_at`

const getEventQuery = `
SELECT id, title, description, host_user_id, script_id, scheduled_at, created_at, updated_at
FROM events
WHERE id = $1`

const listUpcomingQuery = `
SELECT id, title, description, host_user_id, script_id, scheduled_at, created_at, updated_at
FROM events
WHERE scheduled_at >= $1
ORDER BY scheduled_at
LIMIT $2`

const getScriptQuery = `
SELECT id, title, duration_minutes, tone, sections, speaker_notes
FROM scripts
WHERE id = $1`

const scriptExistsQuery = `SELECT EXISTS(SELECT 1 FROM scripts WHERE id = $1)`

// CreateEvent inserts the event, checking the referenced script inside
// the same transaction so a concurrent script delete cannot leave a
// dangling attachment.
func (r *Repository) CreateEvent(ctx context.Context, req CreateEventRequest) (*models.Event, error) {
	var ev *models.Event
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if req.ScriptID != nil {
			var exists bool
			if err := tx.QueryRowContext(ctx, scriptExistsQuery, *req.ScriptID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check script: %w", err)
			}
			if !exists {
				return fmt.Errorf("script %s does not exist", req.ScriptID)
			}
		}

		row := tx.QueryRowContext(ctx, createEventQuery,
			req.ID, req.Title, req.Description, req.HostUserID,
			sqlutil.ToNullUUID(req.ScriptID), req.ScheduledAt)
		var err error
		ev, err = scanEvent(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return ev, nil
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, getEventQuery, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (r *Repository) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx, listUpcomingQuery, from, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var scriptID uuid.NullUUID
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.HostUserID, &scriptID, &ev.ScheduledAt, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.ScriptID = sqlutil.FromNullUUID(scriptID)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// GetScript loads a stored script. Sections are stored as jsonb; decode
// failures surface as ErrUnusableScript via ParseSections.
func (r *Repository) GetScript(ctx context.Context, id uuid.UUID) (*models.Script, error) {
	var script models.Script
	var sections []byte
	var notes pqtype.NullRawMessage
	err := r.db.QueryRowContext(ctx, getScriptQuery, id).Scan(
		&script.ID,
		&script.Title,
		&script.DurationMinutes,
		&script.Tone,
		&sections,
		&notes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get script: %w", err)
	}

	script.Sections, err = ParseSections(sections)
	if err != nil {
		return nil, err
	}
	if notes.Valid {
		script.SpeakerNotes = json.RawMessage(notes.RawMessage)
	}
	return &script, nil
}

func scanEvent(row *sql.Row) (*models.Event, error) {
	var ev models.Event
	var scriptID uuid.NullUUID
	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.HostUserID, &scriptID, &ev.ScheduledAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ev.ScriptID = sqlutil.FromNullUUID(scriptID)
	return &ev, nil
}
