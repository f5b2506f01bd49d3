package profile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

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

const getByIDsQuery = `
SELECT user_id, display_name, avatar_url, created_at
FROM profiles
WHERE user_id = ANY($1)`

// GetByIDs returns the profiles for the given users, keyed by user id.
// Missing profiles are simply absent from the map.
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]models.Profile{}, nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, getByIDsQuery, pq.Array(strIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]models.Profile, len(ids))
	for rows.Next() {
		var p models.Profile
		var avatar sql.NullString
		if err := rows.Scan(&p.UserID, &p.DisplayName, &avatar, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if avatar.Valid {
			p.AvatarURL = avatar.String
		}
		out[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return out, nil
}
