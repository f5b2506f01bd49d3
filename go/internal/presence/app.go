package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/events"
	"github.com/egregor-app/egregor/go/internal/models"
)

// PresenceRepository defines what the presence app layer needs from storage
type PresenceRepository interface {
	Join(ctx context.Context, eventID, userID uuid.UUID) (*models.PresenceRow, error)
	Heartbeat(ctx context.Context, eventID, userID uuid.UUID) (*models.PresenceRow, error)
	Leave(ctx context.Context, eventID, userID uuid.UUID) error
	List(ctx context.Context, eventID uuid.UUID) ([]models.PresenceRow, error)
}

// RoomEvents defines what the presence app needs from the room event bus
type RoomEvents interface {
	Publish(ctx context.Context, ev events.RoomEvent) error
}

type App struct {
	repo PresenceRepository
	bus  RoomEvents
}

func NewApp(repo PresenceRepository, bus RoomEvents) *App {
	return &App{
		repo: repo,
		bus:  bus,
	}
}

// Join upserts the viewer's presence row and announces the join to the
// room. Rejoin while a row exists preserves the original join time.
func (a *App) Join(ctx context.Context, eventID, userID uuid.UUID) error {
	row, err := a.repo.Join(ctx, eventID, userID)
	if err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}

	a.publish(ctx, eventID, events.TypePresenceJoined, events.PresencePayload{
		UserID:   userID,
		JoinedAt: &row.JoinedAt,
	})

	log.Info().
		Str("event_id", eventID.String()).
		Str("user_id", userID.String()).
		Time("joined_at", row.JoinedAt).
		Msg("user joined event")
	return nil
}

// Heartbeat refreshes liveness. Failures are for the caller to log and
// swallow: the heartbeat loop retries on its own next tick.
func (a *App) Heartbeat(ctx context.Context, eventID, userID uuid.UUID) error {
	if _, err := a.repo.Heartbeat(ctx, eventID, userID); err != nil {
		return fmt.Errorf("failed to heartbeat: %w", err)
	}
	return nil
}

// Leave deletes the presence row and announces the departure.
func (a *App) Leave(ctx context.Context, eventID, userID uuid.UUID) error {
	if err := a.repo.Leave(ctx, eventID, userID); err != nil {
		return fmt.Errorf("failed to leave: %w", err)
	}

	a.publish(ctx, eventID, events.TypePresenceLeft, events.PresencePayload{UserID: userID})

	log.Info().
		Str("event_id", eventID.String()).
		Str("user_id", userID.String()).
		Msg("user left event")
	return nil
}

// List returns the full presence snapshot for an event.
func (a *App) List(ctx context.Context, eventID uuid.UUID) ([]models.PresenceRow, error) {
	rows, err := a.repo.List(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}
	return rows, nil
}

func (a *App) publish(ctx context.Context, eventID uuid.UUID, typ events.Type, payload any) {
	if a.bus == nil {
		return
	}
	ev, err := events.New(eventID, typ, payload)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to build presence event")
		return
	}
	if err := a.bus.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to publish presence event")
	}
}
