package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/models"
)

// CreateEventRequest represents a request to create a new event
type CreateEventRequest struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	HostUserID  uuid.UUID  `json:"host_user_id"`
	ScriptID    *uuid.UUID `json:"script_id,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
}

// EventRepository defines what the event app layer needs from storage
type EventRepository interface {
	CreateEvent(ctx context.Context, req CreateEventRequest) (*models.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListUpcoming(ctx context.Context, from time.Time, limit int) ([]models.Event, error)
	GetScript(ctx context.Context, id uuid.UUID) (*models.Script, error)
}

type App struct {
	repo EventRepository
}

func NewApp(repo EventRepository) *App {
	return &App{
		repo: repo,
	}
}

func (a *App) CreateEvent(ctx context.Context, req CreateEventRequest) (*models.Event, error) {
	if req.Title == "" {
		return nil, errors.New("event title is required")
	}
	if req.HostUserID == uuid.Nil {
		return nil, errors.New("event host is required")
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	ev, err := a.repo.CreateEvent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	log.Info().
		Str("event_id", ev.ID.String()).
		Str("host_user_id", ev.HostUserID.String()).
		Time("scheduled_at", ev.ScheduledAt).
		Msg("event created")
	return ev, nil
}

func (a *App) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	ev, err := a.repo.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (a *App) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]models.Event, error) {
	evs, err := a.repo.ListUpcoming(ctx, from, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	return evs, nil
}

// RoomContext loads what a room needs to open: the event and, when one
// is attached and usable, its script. An unusable or missing script is
// logged and returned as nil so the room opens display-only.
func (a *App) RoomContext(ctx context.Context, eventID uuid.UUID) (*models.Event, *models.Script, error) {
	ev, err := a.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load event: %w", err)
	}

	if ev.ScriptID == nil {
		return ev, nil, nil
	}

	script, err := a.repo.GetScript(ctx, *ev.ScriptID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("event_id", eventID.String()).
			Str("script_id", ev.ScriptID.String()).
			Msg("script unavailable; room opens without timer")
		return ev, nil, nil
	}
	if err := ValidateScript(script); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", eventID.String()).
			Str("script_id", script.ID.String()).
			Msg("script failed validation; room opens without timer")
		return ev, nil, nil
	}

	return ev, script, nil
}
