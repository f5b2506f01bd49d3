package runstate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

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

const ensureQuery = `
INSERT INTO event_run_state (event_id, version, mode, section_index, elapsed_before_pause_sec, updated_at)
VALUES ($1, $2, 'idle', 0, 0, now())
ON CONFLICT (event_id) DO NOTHING`

const getQuery = `
SELECT event_id, version, mode, section_index, elapsed_before_pause_sec, started_at, updated_at
FROM event_run_state
WHERE event_id = $1`

// started_at is stamped with the database clock, never the caller's, so
// one time authority drives every viewer's countdown.
const transitionQuery = `
UPDATE event_run_state
SET mode = $2,
    section_index = $3,
    elapsed_before_pause_sec = $4,
    started_at = CASE WHEN $2 = 'running' THEN now() ELSE NULL END,
    updated_at = now()
WHERE event_id = $1
RETURNING event_id, version, mode, section_index, elapsed_before_pause_sec, started_at, updated_at`

// Ensure returns the stored run state for an event, creating the default
// idle state first if none exists. The create is idempotent under
// concurrent first-open by multiple viewers.
func (r *Repository) Ensure(ctx context.Context, eventID uuid.UUID) (*models.RunState, error) {
	if _, err := r.db.ExecContext(ctx, ensureQuery, eventID, models.RunStateVersion); err != nil {
		return nil, fmt.Errorf("failed to ensure run state: %w", err)
	}
	return r.Get(ctx, eventID)
}

func (r *Repository) Get(ctx context.Context, eventID uuid.UUID) (*models.RunState, error) {
	row := r.db.QueryRowContext(ctx, getQuery, eventID)
	rs, err := scanRunState(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get run state: %w", err)
	}
	return rs, nil
}

// Transition writes the next state for an event. ResetTimer forces the
// accumulated elapsed time to zero; the start stamp is refreshed on every
// entry into running and cleared otherwise.
func (r *Repository) Transition(ctx context.Context, eventID uuid.UUID, req TransitionRequest) (*models.RunState, error) {
	elapsed := req.ElapsedBeforePauseSec
	if req.ResetTimer {
		elapsed = 0
	}

	row := r.db.QueryRowContext(ctx, transitionQuery, eventID, string(req.Mode), req.SectionIndex, elapsed)
	rs, err := scanRunState(row)
	if err != nil {
		return nil, fmt.Errorf("failed to transition run state: %w", err)
	}
	return rs, nil
}

func scanRunState(row *sql.Row) (*models.RunState, error) {
	var rs models.RunState
	var startedAt sql.NullTime
	err := row.Scan(
		&rs.EventID,
		&rs.Version,
		&rs.Mode,
		&rs.SectionIndex,
		&rs.ElapsedBeforePauseSec,
		&startedAt,
		&rs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rs.StartedAt = sqlutil.FromNullTime(startedAt)
	return &rs, nil
}
