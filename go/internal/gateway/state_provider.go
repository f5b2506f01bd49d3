package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/event"
	"github.com/egregor-app/egregor/go/internal/models"
	"github.com/egregor-app/egregor/go/internal/presence"
	"github.com/egregor-app/egregor/go/internal/profile"
	"github.com/egregor-app/egregor/go/internal/room"
	"github.com/egregor-app/egregor/go/internal/runstate"
)

// RoomStateProvider implements StateProvider against the app layers.
type RoomStateProvider struct {
	events    *event.App
	runStates *runstate.App
	presence  *presence.App
	profiles  *profile.Repository
	window    time.Duration
	clock     clockwork.Clock
}

// NewRoomStateProvider creates a new room state provider
func NewRoomStateProvider(events *event.App, runStates *runstate.App, pres *presence.App, profiles *profile.Repository, clock clockwork.Clock) *RoomStateProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RoomStateProvider{
		events:    events,
		runStates: runStates,
		presence:  pres,
		profiles:  profiles,
		window:    presence.DefaultActiveWindow,
		clock:     clock,
	}
}

// GetRoomState retrieves the shared state of an event room
func (p *RoomStateProvider) GetRoomState(ctx context.Context, eventID uuid.UUID) (*RoomStateResponse, error) {
	ev, script, err := p.events.RoomContext(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room context: %w", err)
	}

	state, err := p.runStates.Ensure(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	now := p.clock.Now()
	response := &RoomStateResponse{
		EventID:        ev.ID.String(),
		Title:          ev.Title,
		HostUserID:     ev.HostUserID.String(),
		Mode:           string(state.Mode),
		StatusLabel:    room.RunStatusLabel(state.Mode),
		SectionIndex:   state.SectionIndex,
		ScriptAttached: script != nil,
	}

	if script != nil {
		cd := room.Derive(state, script, now)
		response.SectionProgress = cd.SectionProgress
		response.TotalProgress = cd.TotalProgress
		if state.Mode == models.RunModeRunning || state.Mode == models.RunModePaused {
			left := cd.SecondsLeft
			response.SecondsLeft = &left
		}
		if cd.SectionIndex >= 0 && cd.SectionIndex < len(script.Sections) {
			response.SectionName = script.Sections[cd.SectionIndex].Name
		}
	}

	rows, err := p.presence.List(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	response.Participants = p.decorateParticipants(ctx, rows, now)
	response.ActiveCount = len(response.Participants)
	return response, nil
}

// decorateParticipants filters presence rows to the active window and
// joins profile data onto them. Missing profiles degrade to bare IDs.
func (p *RoomStateProvider) decorateParticipants(ctx context.Context, rows []models.PresenceRow, now time.Time) []ParticipantInfo {
	cutoff := now.Add(-p.window)
	var active []models.PresenceRow
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if row.LastSeenAt.Before(cutoff) {
			continue
		}
		active = append(active, row)
		ids = append(ids, row.UserID)
	}

	profiles := map[uuid.UUID]models.Profile{}
	if p.profiles != nil && len(ids) > 0 {
		var err error
		profiles, err = p.profiles.GetByIDs(ctx, ids)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load participant profiles")
			profiles = map[uuid.UUID]models.Profile{}
		}
	}

	participants := make([]ParticipantInfo, 0, len(active))
	for _, row := range active {
		info := ParticipantInfo{
			UserID:   row.UserID.String(),
			JoinedAt: row.JoinedAt,
		}
		if prof, ok := profiles[row.UserID]; ok {
			info.DisplayName = prof.DisplayName
			info.AvatarURL = prof.AvatarURL
		}
		participants = append(participants, info)
	}
	return participants
}

// GetUpcomingEvents retrieves summaries of upcoming events
func (p *RoomStateProvider) GetUpcomingEvents(ctx context.Context, limit int) ([]EventSummary, error) {
	evs, err := p.events.ListUpcoming(ctx, p.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}

	summaries := make([]EventSummary, 0, len(evs))
	for _, ev := range evs {
		summaries = append(summaries, EventSummary{
			EventID:     ev.ID.String(),
			Title:       ev.Title,
			Description: ev.Description,
			HostUserID:  ev.HostUserID.String(),
			ScheduledAt: ev.ScheduledAt,
			HasScript:   ev.ScriptID != nil,
		})
	}
	return summaries, nil
}

// CreateEvent creates a new event
func (p *RoomStateProvider) CreateEvent(ctx context.Context, req event.CreateEventRequest) (*models.Event, error) {
	return p.events.CreateEvent(ctx, req)
}
