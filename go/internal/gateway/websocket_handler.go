package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/auth"
	"github.com/egregor-app/egregor/go/internal/event"
	"github.com/egregor-app/egregor/go/internal/feed"
	"github.com/egregor-app/egregor/go/internal/room"
)

// RoomDeps bundles everything needed to build a controller per connection.
type RoomDeps struct {
	Events    *event.App
	RunStates room.RunStates
	Presence  room.Presence
	Chat      room.Chat
	Feed      feed.Source
	Config    room.Config
}

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	deps              RoomDeps

	// Sticky join preferences outlive individual connections.
	prefsMu sync.Mutex
	prefs   map[uuid.UUID]*room.MemoryPreferences
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, deps RoomDeps) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		deps:              deps,
		prefs:             make(map[uuid.UUID]*room.MemoryPreferences),
	}
}

// prefsFor returns the viewer's preference store, creating it on first use.
func (h *WebSocketHandler) prefsFor(userID uuid.UUID) room.Preferences {
	if userID == uuid.Nil {
		return nil
	}
	h.prefsMu.Lock()
	defer h.prefsMu.Unlock()
	p, ok := h.prefs[userID]
	if !ok {
		p = room.NewMemoryPreferences(true)
		h.prefs[userID] = p
	}
	return p
}

// clientCommand is one inbound message from a room viewer.
type clientCommand struct {
	Action       string `json:"action"`
	SectionIndex int    `json:"section_index,omitempty"`
	Body         string `json:"body,omitempty"`
	Amount       int    `json:"amount,omitempty"`
	Value        bool   `json:"value,omitempty"`
}

// HandleRoomConnection handles WebSocket connections for a specific event room
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	eventIDStr := r.URL.Query().Get("event_id")
	if eventIDStr == "" {
		http.Error(w, "event_id is required", http.StatusBadRequest)
		return
	}

	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		http.Error(w, "invalid event_id format", http.StatusBadRequest)
		return
	}

	userID, err := auth.UserFromRequest(r)
	if err != nil {
		http.Error(w, "invalid user_id format", http.StatusBadRequest)
		return
	}

	ev, script, err := h.deps.Events.RoomContext(r.Context(), eventID)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", eventID.String()).
			Msg("failed to load room context")
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, userID, eventID)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", eventID.String()).
			Str("user_id", userID.String()).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	ctrl := room.NewController(*ev, script, userID, room.Deps{
		RunStates: h.deps.RunStates,
		Presence:  h.deps.Presence,
		Chat:      h.deps.Chat,
		Feed:      h.deps.Feed,
		Prefs:     h.prefsFor(userID),
	}, h.deps.Config)

	ctx, cancel := context.WithCancel(context.Background())
	if err := ctrl.Start(ctx); err != nil {
		log.Error().
			Err(err).
			Str("event_id", eventID.String()).
			Msg("failed to start room controller")
		cancel()
		conn.StartPumps()
		h.sendError(conn, "room unavailable")
		conn.Conn.Close()
		return
	}

	// Handlers must be attached before the pumps run: an immediate
	// disconnect otherwise fires teardown with OnClose still nil and the
	// view loop keeps ticking against a dead connection.
	conn.OnMessage = func(raw []byte) {
		h.handleCommand(ctx, conn, ctrl, raw)
	}
	conn.OnClose = func() {
		cancel()
		ctrl.Close()
	}

	go h.viewLoop(ctx, conn, ctrl)
	conn.StartPumps()
}

// handleCommand dispatches one client command to the room controller.
func (h *WebSocketHandler) handleCommand(ctx context.Context, conn *Connection, ctrl *room.Controller, raw []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.sendError(conn, "malformed command")
		return
	}

	var err error
	switch cmd.Action {
	case "join":
		err = ctrl.Join(ctx)
	case "leave":
		err = ctrl.Leave(ctx)
	case "host_start":
		err = ctrl.HostStart(ctx)
	case "host_pause":
		err = ctrl.HostPause(ctx)
	case "host_resume":
		err = ctrl.HostResume(ctx)
	case "host_end":
		err = ctrl.HostEnd(ctx)
	case "host_goto":
		err = ctrl.HostGoTo(ctx, cmd.SectionIndex)
	case "preview":
		err = ctrl.SelectSectionForPreview(cmd.SectionIndex)
	case "follow_host":
		ctrl.FollowHost()
	case "send_message":
		err = ctrl.SendMessage(ctx, cmd.Body)
	case "send_energy":
		err = ctrl.SendEnergyGift(ctx, cmd.Amount)
	case "foreground":
		ctrl.SetForeground(cmd.Value)
	case "follow_bottom":
		ctrl.SetFollowBottom(cmd.Value)
	default:
		h.sendError(conn, "unknown action")
		return
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("action", cmd.Action).
			Str("connection_id", conn.ID).
			Msg("room command rejected")
		h.sendError(conn, err.Error())
		return
	}

	// Push an immediate snapshot so the client sees the result without
	// waiting for the next display tick.
	h.sendView(conn, ctrl)
}

// viewLoop pushes view snapshots to the client on every display tick.
func (h *WebSocketHandler) viewLoop(ctx context.Context, conn *Connection, ctrl *room.Controller) {
	tick := h.deps.Config.DisplayTick
	if tick <= 0 {
		tick = room.DefaultConfig().DisplayTick
	}
	clock := h.deps.Config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(tick)
	defer ticker.Stop()

	h.sendView(conn, ctrl)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			h.sendView(conn, ctrl)
		}
	}
}

type serverMessage struct {
	Type string     `json:"type"`
	View *room.View `json:"view,omitempty"`
	Err  string     `json:"error,omitempty"`
}

func (h *WebSocketHandler) sendView(conn *Connection, ctrl *room.Controller) {
	view := ctrl.View()
	h.send(conn, serverMessage{Type: "view", View: &view})
}

func (h *WebSocketHandler) sendError(conn *Connection, msg string) {
	h.send(conn, serverMessage{Type: "error", Err: msg})
}

func (h *WebSocketHandler) send(conn *Connection, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal server message")
		return
	}
	// The slow-client policy lives in the connection manager; a dropped
	// frame is fine, the next tick carries a fresh snapshot.
	conn.enqueue(data)
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
}
