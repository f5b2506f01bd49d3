package runstate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/events"
	"github.com/egregor-app/egregor/go/internal/models"
)

// RunStateRepository defines what the run-state app layer needs from storage
type RunStateRepository interface {
	Ensure(ctx context.Context, eventID uuid.UUID) (*models.RunState, error)
	Get(ctx context.Context, eventID uuid.UUID) (*models.RunState, error)
	Transition(ctx context.Context, eventID uuid.UUID, req TransitionRequest) (*models.RunState, error)
}

// RoomEvents defines what the run-state app needs from the room event bus
type RoomEvents interface {
	Publish(ctx context.Context, ev events.RoomEvent) error
}

// App is the authoritative store for one run state per event. Writes are
// gated to the host by the caller; the store itself does not validate
// transition legality (see DESIGN.md on the host trust boundary).
type App struct {
	repo RunStateRepository
	bus  RoomEvents
}

func NewApp(repo RunStateRepository, bus RoomEvents) *App {
	return &App{
		repo: repo,
		bus:  bus,
	}
}

// Ensure returns the current state for an event, creating the default
// idle state if absent. Safe under concurrent first-open.
func (a *App) Ensure(ctx context.Context, eventID uuid.UUID) (models.RunState, error) {
	rs, err := a.repo.Ensure(ctx, eventID)
	if err != nil {
		return models.RunState{}, fmt.Errorf("failed to ensure run state: %w", err)
	}
	return Normalize(*rs), nil
}

// Get reads the current state without creating it.
func (a *App) Get(ctx context.Context, eventID uuid.UUID) (models.RunState, error) {
	rs, err := a.repo.Get(ctx, eventID)
	if err != nil {
		return models.RunState{}, fmt.Errorf("failed to get run state: %w", err)
	}
	return Normalize(*rs), nil
}

// Transition applies a host transition and publishes the resulting state
// to the room bus. Publish failures are logged, not returned: the write
// is durable and viewers heal via their resync tick.
func (a *App) Transition(ctx context.Context, eventID uuid.UUID, req TransitionRequest) (models.RunState, error) {
	if err := validateTransition(req); err != nil {
		return models.RunState{}, err
	}

	rs, err := a.repo.Transition(ctx, eventID, req)
	if err != nil {
		return models.RunState{}, fmt.Errorf("failed to transition run state: %w", err)
	}
	norm := Normalize(*rs)

	if a.bus != nil {
		ev, err := events.New(eventID, events.TypeRunStateChanged, events.RunStateChangedPayload{State: norm})
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to build RunStateChanged event")
		} else if err := a.bus.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to publish RunStateChanged event")
		}
	}

	log.Info().
		Str("event_id", eventID.String()).
		Str("mode", string(norm.Mode)).
		Int("section_index", norm.SectionIndex).
		Bool("reset_timer", req.ResetTimer).
		Msg("run state transitioned")

	return norm, nil
}

func validateTransition(req TransitionRequest) error {
	switch req.Mode {
	case models.RunModeIdle, models.RunModeRunning, models.RunModePaused, models.RunModeEnded:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidTransition, req.Mode)
	}
	if req.SectionIndex < 0 {
		return fmt.Errorf("%w: negative section index %d", ErrInvalidTransition, req.SectionIndex)
	}
	if req.ElapsedBeforePauseSec < 0 {
		return fmt.Errorf("%w: negative elapsed seconds %d", ErrInvalidTransition, req.ElapsedBeforePauseSec)
	}
	return nil
}
