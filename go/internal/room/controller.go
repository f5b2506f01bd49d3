package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/auth"
	"github.com/egregor-app/egregor/go/internal/chat"
	"github.com/egregor-app/egregor/go/internal/feed"
	"github.com/egregor-app/egregor/go/internal/models"
	"github.com/egregor-app/egregor/go/internal/presence"
	"github.com/egregor-app/egregor/go/internal/runstate"
)

var (
	// ErrNotHost is returned when a non-host viewer invokes a host control.
	ErrNotHost = errors.New("only the host controls the shared timer")
	// ErrNoScript is returned for timer controls in a display-only room.
	ErrNoScript = errors.New("no usable script attached")
	// ErrInvalidAction is returned for a transition not legal from the
	// current mode. The store trusts the host; legality lives here.
	ErrInvalidAction = errors.New("action not valid in current mode")
	// ErrRoomClosed is returned for any action after Close.
	ErrRoomClosed = errors.New("room is closed")
)

// RunStates defines what the controller needs from the run-state store
type RunStates interface {
	Ensure(ctx context.Context, eventID uuid.UUID) (models.RunState, error)
	Transition(ctx context.Context, eventID uuid.UUID, req runstate.TransitionRequest) (models.RunState, error)
}

// Presence defines what the controller needs from the presence tracker
type Presence interface {
	Join(ctx context.Context, eventID, userID uuid.UUID) error
	Heartbeat(ctx context.Context, eventID, userID uuid.UUID) error
	Leave(ctx context.Context, eventID, userID uuid.UUID) error
	List(ctx context.Context, eventID uuid.UUID) ([]models.PresenceRow, error)
}

// Chat defines what the controller needs from the chat app
type Chat interface {
	Send(ctx context.Context, eventID, userID uuid.UUID, body string) (models.ChatMessage, error)
	SendEnergyGift(ctx context.Context, eventID, userID uuid.UUID, amount int) (models.ChatMessage, error)
	List(ctx context.Context, eventID uuid.UUID) ([]models.ChatMessage, error)
}

// Deps bundles the collaborators a controller orchestrates.
type Deps struct {
	RunStates RunStates
	Presence  Presence
	Chat      Chat
	Feed      feed.Source
	Prefs     Preferences
}

// Config holds the controller's timer intervals. The display tick reads
// only locally held state plus the clock, so a slow backend never blocks
// it; the resync interval bounds how stale any viewer can get after
// dropped feed notifications.
type Config struct {
	DisplayTick       time.Duration
	HeartbeatInterval time.Duration
	ResyncInterval    time.Duration
	ActiveWindow      time.Duration
	Clock             clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		DisplayTick:       500 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
		ResyncInterval:    60 * time.Second,
		ActiveWindow:      presence.DefaultActiveWindow,
		Clock:             clockwork.NewRealClock(),
	}
}

// Controller is the per-viewer room process: it reconciles the local
// countdown display with the shared run state, arbitrates host vs
// non-host control, and drives the join/heartbeat lifecycle. One
// controller exists per open connection; Close tears down every timer
// and subscription it started.
type Controller struct {
	event  models.Event
	script *models.Script
	viewer uuid.UUID
	deps   Deps
	cfg    Config
	clock  clockwork.Clock

	mu             sync.Mutex
	state          models.RunState
	tracker        *presence.Tracker
	messages       *chat.Log
	joined         bool
	foreground     bool
	previewSection int // -1 means following the host
	advanceKey     string
	lastErr        string
	closed         bool

	cancel context.CancelFunc
	runCtx context.Context
	wg     sync.WaitGroup
	syncs  []*feed.Sync
	once   sync.Once
}

// NewController builds a controller for one viewer. A nil script opens
// the room display-only. viewer may be uuid.Nil for a signed-out reader:
// the room renders, but join/heartbeat/send are rejected.
func NewController(ev models.Event, script *models.Script, viewer uuid.UUID, deps Deps, cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	def := DefaultConfig()
	if cfg.DisplayTick <= 0 {
		cfg.DisplayTick = def.DisplayTick
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = def.ResyncInterval
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = def.ActiveWindow
	}
	if deps.Prefs == nil {
		deps.Prefs = NewMemoryPreferences(false)
	}

	return &Controller{
		event:          ev,
		script:         script,
		viewer:         viewer,
		deps:           deps,
		cfg:            cfg,
		clock:          cfg.Clock,
		tracker:        presence.NewTracker(ev.ID, cfg.ActiveWindow),
		messages:       chat.NewLog(),
		foreground:     true,
		previewSection: -1,
	}
}

// IsHost reports whether this viewer is the event's designated host.
func (c *Controller) IsHost() bool {
	return c.viewer != uuid.Nil && c.viewer == c.event.HostUserID
}

// Start loads the initial state and spins up the controller's timers and
// subscriptions. An initial load failure is returned to the caller; any
// later backend failure degrades the view instead of closing the room.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	c.cancel = cancel

	state, err := c.deps.RunStates.Ensure(runCtx, c.event.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to load room state: %w", err)
	}
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	syncCfg := feed.SyncConfig{Interval: c.cfg.ResyncInterval, Clock: c.clock}
	c.syncs = []*feed.Sync{
		feed.NewSync(c.deps.Feed, feed.TableRunState, c.event.ID, c.onRunStateChange, c.reloadRunState, syncCfg),
		feed.NewSync(c.deps.Feed, feed.TablePresence, c.event.ID, c.tracker.Apply, c.reloadPresence, syncCfg),
		feed.NewSync(c.deps.Feed, feed.TableMessages, c.event.ID, c.onChatChange, c.reloadChat, syncCfg),
	}
	for _, s := range c.syncs {
		s.Start(runCtx)
	}

	c.wg.Add(2)
	go c.tickLoop(runCtx)
	go c.heartbeatLoop(runCtx)

	c.maybeAutoJoin(runCtx)

	log.Info().
		Str("event_id", c.event.ID.String()).
		Str("viewer_id", c.viewer.String()).
		Bool("is_host", c.IsHost()).
		Bool("script_attached", c.script != nil).
		Msg("room controller started")
	return nil
}

// Close stops every timer and subscription before returning; no callback
// is delivered into the controller afterward. Close does not delete the
// presence row; that is what explicit Leave is for.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		for _, s := range c.syncs {
			s.Stop()
		}
		c.wg.Wait()

		log.Info().
			Str("event_id", c.event.ID.String()).
			Str("viewer_id", c.viewer.String()).
			Msg("room controller closed")
	})
}

// --- join lifecycle ---

// maybeAutoJoin joins on room open only when the global auto-join
// preference and the per-event sticky preference are both set and the
// viewer has no presence row yet.
func (c *Controller) maybeAutoJoin(ctx context.Context) {
	if c.viewer == uuid.Nil {
		return
	}
	if !c.deps.Prefs.AutoJoin() || !c.deps.Prefs.StickyJoin(c.event.ID) {
		return
	}

	rows, err := c.deps.Presence.List(ctx, c.event.ID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", c.event.ID.String()).Msg("auto-join presence check failed")
		return
	}
	for _, row := range rows {
		if row.UserID == c.viewer {
			c.mu.Lock()
			c.joined = true
			c.mu.Unlock()
			return
		}
	}

	if err := c.join(ctx, false); err != nil {
		log.Warn().Err(err).Str("event_id", c.event.ID.String()).Msg("auto-join failed")
	}
}

// Join is the viewer's explicit join; it also sets the sticky per-event
// preference so the next room open rejoins automatically.
func (c *Controller) Join(ctx context.Context) error {
	return c.join(ctx, true)
}

func (c *Controller) join(ctx context.Context, updateSticky bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.viewer == uuid.Nil {
		return auth.ErrNotSignedIn
	}
	if err := c.deps.Presence.Join(ctx, c.event.ID, c.viewer); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	if updateSticky {
		c.deps.Prefs.SetStickyJoin(c.event.ID, true)
	}
	return nil
}

// Leave deletes the presence row and clears the sticky preference.
func (c *Controller) Leave(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.viewer == uuid.Nil {
		return auth.ErrNotSignedIn
	}
	if err := c.deps.Presence.Leave(ctx, c.event.ID, c.viewer); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined = false
	c.mu.Unlock()
	c.deps.Prefs.SetStickyJoin(c.event.ID, false)
	return nil
}

// SetForeground records whether the viewer's app is foregrounded. A
// backgrounded app stops beating and decays out of the active set.
func (c *Controller) SetForeground(fg bool) {
	c.mu.Lock()
	c.foreground = fg
	c.mu.Unlock()
}

func (c *Controller) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.mu.Lock()
			beat := c.joined && c.foreground
			c.mu.Unlock()
			if !beat {
				continue
			}
			if err := c.deps.Presence.Heartbeat(ctx, c.event.ID, c.viewer); err != nil {
				// transient; the loop retries on its own next tick
				log.Warn().Err(err).Str("event_id", c.event.ID.String()).Msg("heartbeat failed")
			}
		}
	}
}

// --- display tick and auto-advance ---

func (c *Controller) tickLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.cfg.DisplayTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.onTick(ctx)
		}
	}
}

func (c *Controller) onTick(ctx context.Context) {
	if !c.IsHost() || c.script == nil {
		return
	}

	c.mu.Lock()
	state := c.state
	if state.Mode != models.RunModeRunning {
		c.mu.Unlock()
		return
	}
	cd := Derive(state, c.script, c.clock.Now())
	if cd.SecondsLeft > 0 {
		c.mu.Unlock()
		return
	}

	// The tick keeps firing with SecondsLeft at 0 until the transition
	// round-trip lands. The key identifies this zero-crossing, so the
	// advance is requested exactly once per crossing and retried only
	// after an explicit failure clears it.
	key := advanceKeyFor(state)
	if c.advanceKey == key {
		c.mu.Unlock()
		return
	}
	c.advanceKey = key
	c.mu.Unlock()

	c.wg.Add(1)
	go c.advance(ctx, state)
}

func advanceKeyFor(state models.RunState) string {
	started := int64(0)
	if state.StartedAt != nil {
		started = state.StartedAt.UnixNano()
	}
	return fmt.Sprintf("%d@%d", state.SectionIndex, started)
}

// advance is the host-only section advance fired when the countdown hits
// zero: next section with a fresh timer, or ended after the last one.
func (c *Controller) advance(ctx context.Context, from models.RunState) {
	defer c.wg.Done()

	idx := runstate.ClampSectionIndex(from.SectionIndex, len(c.script.Sections))
	req := runstate.TransitionRequest{
		Mode:         models.RunModeRunning,
		SectionIndex: idx + 1,
		ResetTimer:   true,
	}
	if idx+1 >= len(c.script.Sections) {
		req = runstate.TransitionRequest{
			Mode:         models.RunModeEnded,
			SectionIndex: idx,
			ResetTimer:   true,
		}
	}

	next, err := c.deps.RunStates.Transition(ctx, c.event.ID, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// keep the confirmed state; clearing the key lets the next
		// tick retry this crossing
		c.advanceKey = ""
		c.lastErr = err.Error()
		log.Error().Err(err).Str("event_id", c.event.ID.String()).Msg("auto-advance failed")
		return
	}
	c.applyStateLocked(next)
	c.lastErr = ""
}

// --- host controls ---

// HostStart begins the session from idle, or restarts it after ended.
// Restart re-enters running at section 0 with a fresh timer.
func (c *Controller) HostStart(ctx context.Context) error {
	return c.hostTransition(ctx, func(state models.RunState) (runstate.TransitionRequest, error) {
		if state.Mode != models.RunModeIdle && state.Mode != models.RunModeEnded {
			return runstate.TransitionRequest{}, fmt.Errorf("%w: start from %s", ErrInvalidAction, state.Mode)
		}
		return runstate.TransitionRequest{
			Mode:         models.RunModeRunning,
			SectionIndex: 0,
			ResetTimer:   true,
		}, nil
	})
}

// HostPause freezes the countdown, banking the elapsed seconds of the
// current segment so resume continues where pause left off.
func (c *Controller) HostPause(ctx context.Context) error {
	return c.hostTransition(ctx, func(state models.RunState) (runstate.TransitionRequest, error) {
		if state.Mode != models.RunModeRunning {
			return runstate.TransitionRequest{}, fmt.Errorf("%w: pause from %s", ErrInvalidAction, state.Mode)
		}
		elapsed := state.ElapsedBeforePauseSec
		if state.StartedAt != nil {
			elapsed += int(c.clock.Now().Sub(*state.StartedAt).Seconds())
		}
		if elapsed < 0 {
			elapsed = 0
		}
		return runstate.TransitionRequest{
			Mode:                  models.RunModePaused,
			SectionIndex:          state.SectionIndex,
			ElapsedBeforePauseSec: elapsed,
		}, nil
	})
}

// HostResume re-enters running; the store stamps a fresh start and the
// banked elapsed seconds carry forward, so the wall-clock gap spent
// paused never counts.
func (c *Controller) HostResume(ctx context.Context) error {
	return c.hostTransition(ctx, func(state models.RunState) (runstate.TransitionRequest, error) {
		if state.Mode != models.RunModePaused {
			return runstate.TransitionRequest{}, fmt.Errorf("%w: resume from %s", ErrInvalidAction, state.Mode)
		}
		return runstate.TransitionRequest{
			Mode:                  models.RunModeRunning,
			SectionIndex:          state.SectionIndex,
			ElapsedBeforePauseSec: state.ElapsedBeforePauseSec,
		}, nil
	})
}

// HostEnd ends the session from running or paused.
func (c *Controller) HostEnd(ctx context.Context) error {
	return c.hostTransition(ctx, func(state models.RunState) (runstate.TransitionRequest, error) {
		if state.Mode != models.RunModeRunning && state.Mode != models.RunModePaused {
			return runstate.TransitionRequest{}, fmt.Errorf("%w: end from %s", ErrInvalidAction, state.Mode)
		}
		return runstate.TransitionRequest{
			Mode:         models.RunModeEnded,
			SectionIndex: state.SectionIndex,
			ResetTimer:   true,
		}, nil
	})
}

// HostGoTo jumps the shared position to a section, always with a fresh
// timer: the new section starts from zero elapsed regardless of how far
// the previous one had run.
func (c *Controller) HostGoTo(ctx context.Context, index int) error {
	return c.hostTransition(ctx, func(state models.RunState) (runstate.TransitionRequest, error) {
		if state.Mode == models.RunModeEnded {
			return runstate.TransitionRequest{}, fmt.Errorf("%w: jump from %s", ErrInvalidAction, state.Mode)
		}
		return runstate.TransitionRequest{
			Mode:         state.Mode,
			SectionIndex: runstate.ClampSectionIndex(index, len(c.script.Sections)),
			ResetTimer:   true,
		}, nil
	})
}

func (c *Controller) hostTransition(ctx context.Context, build func(models.RunState) (runstate.TransitionRequest, error)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.IsHost() {
		return ErrNotHost
	}
	if c.script == nil {
		return ErrNoScript
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	req, err := build(state)
	if err != nil {
		return err
	}

	// No optimistic mutation: the view reflects only confirmed server
	// state, so a failed transition shows the old state plus an error.
	next, err := c.deps.RunStates.Transition(ctx, c.event.ID, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		return err
	}
	c.applyStateLocked(next)
	c.lastErr = ""
	return nil
}

// --- preview ---

// SelectSectionForPreview pages the local view to a section without
// touching the shared run state. Previewing is static reading, not a
// second timeline.
func (c *Controller) SelectSectionForPreview(index int) error {
	if c.script == nil {
		return ErrNoScript
	}
	c.mu.Lock()
	c.previewSection = runstate.ClampSectionIndex(index, len(c.script.Sections))
	c.mu.Unlock()
	return nil
}

// FollowHost returns the view to the host's live section.
func (c *Controller) FollowHost() {
	c.mu.Lock()
	c.previewSection = -1
	c.mu.Unlock()
}

// --- chat ---

// SendMessage posts a text message, placing the confirmed row in the
// local log immediately; the feed echo deduplicates by ID.
func (c *Controller) SendMessage(ctx context.Context, body string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.viewer == uuid.Nil {
		return auth.ErrNotSignedIn
	}
	msg, err := c.deps.Chat.Send(ctx, c.event.ID, c.viewer, body)
	if err != nil {
		return err
	}
	c.messages.Upsert(msg)
	return nil
}

// SendEnergyGift posts an energy gift into the room.
func (c *Controller) SendEnergyGift(ctx context.Context, amount int) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.viewer == uuid.Nil {
		return auth.ErrNotSignedIn
	}
	msg, err := c.deps.Chat.SendEnergyGift(ctx, c.event.ID, c.viewer, amount)
	if err != nil {
		return err
	}
	c.messages.Upsert(msg)
	return nil
}

// SetFollowBottom forwards the viewer's scroll position to the message
// log's autoscroll policy.
func (c *Controller) SetFollowBottom(follow bool) {
	c.messages.SetFollowBottom(follow)
}

// --- view ---

// View renders the read-only model for this viewer at the current tick.
func (c *Controller) View() View {
	now := c.clock.Now()

	c.mu.Lock()
	state := c.state
	previewSection := c.previewSection
	joined := c.joined
	lastErr := c.lastErr
	c.mu.Unlock()

	v := View{
		EventID:        c.event.ID,
		IsHost:         c.IsHost(),
		Joined:         joined,
		ScriptAttached: c.script != nil,
		Mode:           state.Mode,
		RunStatusLabel: RunStatusLabel(state.Mode),
		SectionIndex:   state.SectionIndex,
		PreviewSection: previewSection,
		LastError:      lastErr,
	}

	previewing := previewSection >= 0 && previewSection != state.SectionIndex
	v.Previewing = previewing
	if previewing {
		cd := PreviewCountdown(c.script, previewSection)
		v.SecondsLeft = cd.SecondsLeft
	} else {
		cd := Derive(state, c.script, now)
		v.SecondsLeft = cd.SecondsLeft
		v.SectionProgressPct = cd.SectionProgress
		v.TotalProgressPct = cd.TotalProgress
	}

	snap := c.tracker.Snapshot(now)
	v.Active = snap.Active
	v.Recent = snap.Recent
	v.ActiveCount = len(snap.Active)

	v.Messages = c.messages.Messages()
	v.UnreadCount = c.messages.Unread()

	return v
}

// --- feed plumbing ---

func (c *Controller) onRunStateChange(change feed.Change) {
	if change.Op == feed.OpDelete {
		return
	}
	c.applyState(runstate.NormalizeJSON(change.Row))
}

func (c *Controller) applyState(next models.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyStateLocked(next)
}

// applyStateLocked merges a confirmed state, last write wins by the
// server's updated_at so a stale feed delivery cannot roll back a
// fresher resync.
func (c *Controller) applyStateLocked(next models.RunState) {
	if next.UpdatedAt.Before(c.state.UpdatedAt) {
		return
	}
	c.state = next
}

func (c *Controller) reloadRunState(ctx context.Context) error {
	state, err := c.deps.RunStates.Ensure(ctx, c.event.ID)
	if err != nil {
		return err
	}
	c.applyState(state)
	return nil
}

func (c *Controller) reloadPresence(ctx context.Context) error {
	rows, err := c.deps.Presence.List(ctx, c.event.ID)
	if err != nil {
		return err
	}
	c.tracker.Replace(rows)
	return nil
}

func (c *Controller) onChatChange(change feed.Change) {
	if change.Op == feed.OpDelete {
		return
	}
	var msg models.ChatMessage
	if err := json.Unmarshal(change.Row, &msg); err != nil {
		log.Error().Err(err).Str("event_id", c.event.ID.String()).Msg("invalid chat row in change feed")
		return
	}
	c.messages.Upsert(msg)
}

func (c *Controller) reloadChat(ctx context.Context) error {
	msgs, err := c.deps.Chat.List(ctx, c.event.ID)
	if err != nil {
		return err
	}
	c.messages.Merge(msgs)
	return nil
}

func (c *Controller) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrRoomClosed
	}
	return nil
}
