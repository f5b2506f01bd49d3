package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egregor-app/egregor/go/internal/events"
	"github.com/egregor-app/egregor/go/internal/models"
)

type memRunStateRepo struct {
	mu     sync.Mutex
	states map[uuid.UUID]models.RunState
	err    error
}

func newMemRunStateRepo() *memRunStateRepo {
	return &memRunStateRepo{states: make(map[uuid.UUID]models.RunState)}
}

func (r *memRunStateRepo) Ensure(ctx context.Context, eventID uuid.UUID) (*models.RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	st, ok := r.states[eventID]
	if !ok {
		st = models.RunState{
			EventID:   eventID,
			Version:   models.RunStateVersion,
			Mode:      models.RunModeIdle,
			UpdatedAt: time.Now().UTC(),
		}
		r.states[eventID] = st
	}
	return &st, nil
}

func (r *memRunStateRepo) Get(ctx context.Context, eventID uuid.UUID) (*models.RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	st, ok := r.states[eventID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &st, nil
}

func (r *memRunStateRepo) Transition(ctx context.Context, eventID uuid.UUID, req TransitionRequest) (*models.RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	now := time.Now().UTC()
	st := r.states[eventID]
	st.EventID = eventID
	st.Version = models.RunStateVersion
	st.Mode = req.Mode
	st.SectionIndex = req.SectionIndex
	if req.ResetTimer {
		st.ElapsedBeforePauseSec = 0
	} else {
		st.ElapsedBeforePauseSec = req.ElapsedBeforePauseSec
	}
	if req.Mode == models.RunModeRunning {
		started := now
		st.StartedAt = &started
	} else {
		st.StartedAt = nil
	}
	st.UpdatedAt = now
	r.states[eventID] = st
	return &st, nil
}

type captureBus struct {
	mu     sync.Mutex
	events []events.RoomEvent
	err    error
}

func (b *captureBus) Publish(ctx context.Context, ev events.RoomEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *captureBus) published() []events.RoomEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.RoomEvent, len(b.events))
	copy(out, b.events)
	return out
}

func TestAppEnsureIsIdempotent(t *testing.T) {
	repo := newMemRunStateRepo()
	app := NewApp(repo, nil)
	eventID := uuid.New()

	first, err := app.Ensure(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, models.RunModeIdle, first.Mode)
	assert.Equal(t, 0, first.SectionIndex)

	second, err := app.Ensure(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAppTransitionPublishes(t *testing.T) {
	repo := newMemRunStateRepo()
	bus := &captureBus{}
	app := NewApp(repo, bus)
	eventID := uuid.New()

	next, err := app.Transition(context.Background(), eventID, TransitionRequest{
		Mode:       models.RunModeRunning,
		ResetTimer: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunModeRunning, next.Mode)
	require.NotNil(t, next.StartedAt)

	published := bus.published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeRunStateChanged, published[0].Type)
	assert.Equal(t, eventID, published[0].EventID)

	var payload events.RunStateChangedPayload
	require.NoError(t, json.Unmarshal(published[0].Payload, &payload))
	assert.Equal(t, next, payload.State)
}

func TestAppTransitionToleratesPublishFailure(t *testing.T) {
	repo := newMemRunStateRepo()
	bus := &captureBus{err: errors.New("bus down")}
	app := NewApp(repo, bus)
	eventID := uuid.New()

	// The write is durable; broadcast loss heals via resync.
	next, err := app.Transition(context.Background(), eventID, TransitionRequest{
		Mode: models.RunModeEnded,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunModeEnded, next.Mode)

	got, err := app.Get(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, models.RunModeEnded, got.Mode)
}

func TestAppTransitionValidation(t *testing.T) {
	app := NewApp(newMemRunStateRepo(), nil)
	eventID := uuid.New()

	_, err := app.Transition(context.Background(), eventID, TransitionRequest{Mode: "rewinding"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = app.Transition(context.Background(), eventID, TransitionRequest{Mode: models.RunModeRunning, SectionIndex: -1})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = app.Transition(context.Background(), eventID, TransitionRequest{Mode: models.RunModePaused, ElapsedBeforePauseSec: -5})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAppNormalizesStoredState(t *testing.T) {
	repo := newMemRunStateRepo()
	eventID := uuid.New()
	// A row written by a future version with a mode this build does not
	// know reads back as idle.
	repo.states[eventID] = models.RunState{
		EventID:      eventID,
		Version:      2,
		Mode:         "breathing",
		SectionIndex: 1,
		UpdatedAt:    time.Now(),
	}
	app := NewApp(repo, nil)

	got, err := app.Get(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, models.RunModeIdle, got.Mode)
	assert.Equal(t, 1, got.SectionIndex)
}
