package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/auth"
	"github.com/egregor-app/egregor/go/internal/event"
	"github.com/egregor-app/egregor/go/internal/models"
)

// StateProvider interface defines methods for retrieving room state
type StateProvider interface {
	GetRoomState(ctx context.Context, eventID uuid.UUID) (*RoomStateResponse, error)
	GetUpcomingEvents(ctx context.Context, limit int) ([]EventSummary, error)
	CreateEvent(ctx context.Context, req event.CreateEventRequest) (*models.Event, error)
}

// RoomStateResponse represents the shared state of an event room
type RoomStateResponse struct {
	EventID         string            `json:"event_id"`
	Title           string            `json:"title"`
	HostUserID      string            `json:"host_user_id"`
	Mode            string            `json:"mode"`
	StatusLabel     string            `json:"status_label"`
	SectionIndex    int               `json:"section_index"`
	SectionName     string            `json:"section_name,omitempty"`
	SecondsLeft     *int              `json:"seconds_left,omitempty"`
	SectionProgress float64           `json:"section_progress_pct"`
	TotalProgress   float64           `json:"total_progress_pct"`
	ScriptAttached  bool              `json:"script_attached"`
	ActiveCount     int               `json:"active_count"`
	Participants    []ParticipantInfo `json:"participants"`
}

// ParticipantInfo represents one active participant with profile data
type ParticipantInfo struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// EventSummary represents a summary of an upcoming event
type EventSummary struct {
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	HostUserID  string    `json:"host_user_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	HasScript   bool      `json:"has_script"`
}

// StateHandler handles HTTP requests for room state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetRoomState handles GET /api/events/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventIDStr := extractEventIDFromPath(r.URL.Path)
	if eventIDStr == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		http.Error(w, "Invalid event ID format", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetRoomState(r.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to get room state")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// HandleUpcomingEvents handles GET /api/events/upcoming
func (h *StateHandler) HandleUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events, err := h.stateProvider.GetUpcomingEvents(r.Context(), 50)
	if err != nil {
		log.Error().Err(err).Msg("failed to get upcoming events")
		http.Error(w, "Failed to get upcoming events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		log.Error().Err(err).Msg("failed to encode upcoming events response")
	}
}

// HandleCreateEvent handles POST /api/events
func (h *StateHandler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req event.CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// The caller's identity is the default host.
	if req.HostUserID == uuid.Nil {
		userID, err := auth.UserFromRequest(r)
		if err != nil {
			http.Error(w, "Invalid user id", http.StatusBadRequest)
			return
		}
		req.HostUserID = userID
	}

	ev, err := h.stateProvider.CreateEvent(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("failed to create event")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		log.Error().Err(err).Msg("failed to encode created event")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/events/upcoming", h.HandleUpcomingEvents)

	mux.HandleFunc("/api/events", h.HandleCreateEvent)

	// Pattern for room state - note the trailing slash
	mux.HandleFunc("/api/events/", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("path", r.URL.Path).Msg("state handler received request")

		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetRoomState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractEventIDFromPath extracts the event ID from /api/events/{id}/state
func extractEventIDFromPath(path string) string {
	const prefix = "/api/events/"
	const suffix = "/state"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}

	return path[len(prefix) : len(path)-len(suffix)]
}
