package chat

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

// The ID is client-assigned for optimistic-send dedupe; created_at is
// stamped by the database so ordering is one clock's opinion.
const insertQuery = `
INSERT INTO event_messages (id, event_id, user_id, kind, body, gift_amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
RETURNING id, event_id, user_id, kind, body, gift_amount, created_at`

// The newest rows win the limit; a busy room must never resync to a
// window that excludes its latest traffic. Rows come back descending and
// are reversed into render order after the scan.
const listQuery = `
SELECT id, event_id, user_id, kind, body, gift_amount, created_at
FROM event_messages
WHERE event_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

func (r *Repository) Insert(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	row := r.db.QueryRowContext(ctx, insertQuery,
		msg.ID, msg.EventID, msg.UserID, string(msg.Kind), msg.Body, msg.GiftAmount)
	out, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return out, nil
}

func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx, listQuery, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.EventID, &msg.UserID, &msg.Kind, &msg.Body, &msg.GiftAmount, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanMessage(row *sql.Row) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := row.Scan(&msg.ID, &msg.EventID, &msg.UserID, &msg.Kind, &msg.Body, &msg.GiftAmount, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
