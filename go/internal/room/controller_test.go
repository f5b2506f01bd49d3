package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egregor-app/egregor/go/internal/auth"
	"github.com/egregor-app/egregor/go/internal/feed"
	"github.com/egregor-app/egregor/go/internal/models"
	"github.com/egregor-app/egregor/go/internal/runstate"
)

var ctrlBase = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

// fakeRunStates is an in-memory store with the same stamping rules as
// the real one: server time on every write, StartedAt present iff
// running, ResetTimer zeroing the banked elapsed.
type fakeRunStates struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	state        models.RunState
	failNext     error
	transitioned chan runstate.TransitionRequest
}

func newFakeRunStates(clock clockwork.Clock) *fakeRunStates {
	return &fakeRunStates{
		clock:        clock,
		transitioned: make(chan runstate.TransitionRequest, 100),
	}
}

func (f *fakeRunStates) Ensure(ctx context.Context, eventID uuid.UUID) (models.RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.EventID == uuid.Nil {
		f.state = runstate.Normalize(models.RunState{EventID: eventID, UpdatedAt: f.clock.Now()})
		f.state.EventID = eventID
	}
	return f.state, nil
}

func (f *fakeRunStates) Transition(ctx context.Context, eventID uuid.UUID, req runstate.TransitionRequest) (models.RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return models.RunState{}, err
	}

	now := f.clock.Now()
	st := f.state
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
	f.state = st

	select {
	case f.transitioned <- req:
	default:
	}
	return st, nil
}

func (f *fakeRunStates) current() models.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRunStates) failOnce(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

type fakePresence struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	rows       map[uuid.UUID]models.PresenceRow
	heartbeats chan uuid.UUID
}

func newFakePresence(clock clockwork.Clock) *fakePresence {
	return &fakePresence{
		clock:      clock,
		rows:       make(map[uuid.UUID]models.PresenceRow),
		heartbeats: make(chan uuid.UUID, 100),
	}
}

func (f *fakePresence) Join(ctx context.Context, eventID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	row, ok := f.rows[userID]
	if !ok {
		row = models.PresenceRow{EventID: eventID, UserID: userID, JoinedAt: now}
	}
	row.LastSeenAt = now
	f.rows[userID] = row
	return nil
}

func (f *fakePresence) Heartbeat(ctx context.Context, eventID, userID uuid.UUID) error {
	if err := f.Join(ctx, eventID, userID); err != nil {
		return err
	}
	select {
	case f.heartbeats <- userID:
	default:
	}
	return nil
}

func (f *fakePresence) Leave(ctx context.Context, eventID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, userID)
	return nil
}

func (f *fakePresence) List(ctx context.Context, eventID uuid.UUID) ([]models.PresenceRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PresenceRow, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakePresence) has(userID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[userID]
	return ok
}

type fakeChat struct {
	mu    sync.Mutex
	clock clockwork.Clock
	msgs  []models.ChatMessage
	lists int
}

func newFakeChat(clock clockwork.Clock) *fakeChat {
	return &fakeChat{clock: clock}
}

func (f *fakeChat) Send(ctx context.Context, eventID, userID uuid.UUID, body string) (models.ChatMessage, error) {
	return f.append(models.ChatMessage{
		ID:      uuid.New(),
		EventID: eventID,
		UserID:  userID,
		Kind:    models.MessageKindText,
		Body:    body,
	})
}

func (f *fakeChat) SendEnergyGift(ctx context.Context, eventID, userID uuid.UUID, amount int) (models.ChatMessage, error) {
	return f.append(models.ChatMessage{
		ID:         uuid.New(),
		EventID:    eventID,
		UserID:     userID,
		Kind:       models.MessageKindEnergy,
		GiftAmount: amount,
	})
}

func (f *fakeChat) append(msg models.ChatMessage) (models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.CreatedAt = f.clock.Now()
	f.msgs = append(f.msgs, msg)
	return msg, nil
}

func (f *fakeChat) List(ctx context.Context, eventID uuid.UUID) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	out := make([]models.ChatMessage, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func (f *fakeChat) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// fakeFeed hands each table subscription back to the test for direct
// change injection.
type fakeFeed struct {
	mu   sync.Mutex
	subs map[string]func(feed.Change)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string]func(feed.Change))}
}

func (f *fakeFeed) Subscribe(table string, eventID uuid.UUID, fn func(feed.Change)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[table] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, table)
	}
}

func (f *fakeFeed) push(table string, c feed.Change) {
	f.mu.Lock()
	fn := f.subs[table]
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

type fixture struct {
	clock  *clockwork.FakeClock
	runs   *fakeRunStates
	pres   *fakePresence
	chats  *fakeChat
	src    *fakeFeed
	prefs  *MemoryPreferences
	event  models.Event
	script *models.Script
	host   uuid.UUID
}

func newFixture(sections ...models.ScriptSection) *fixture {
	if len(sections) == 0 {
		sections = []models.ScriptSection{
			{Name: "Arrival", Minutes: 1},
			{Name: "Focus", Minutes: 2},
			{Name: "Closing", Minutes: 0.5},
		}
	}
	clock := clockwork.NewFakeClockAt(ctrlBase)
	host := uuid.New()
	return &fixture{
		clock: clock,
		runs:  newFakeRunStates(clock),
		pres:  newFakePresence(clock),
		chats: newFakeChat(clock),
		src:   newFakeFeed(),
		prefs: NewMemoryPreferences(false),
		event: models.Event{ID: uuid.New(), Title: "Evening Session", HostUserID: host},
		script: &models.Script{
			Title:    "Evening Session",
			Sections: sections,
		},
		host: host,
	}
}

// start builds and starts a controller, then waits for every clock
// consumer (display tick, heartbeat, three resync loops) to be parked on
// the fake clock so Advance cannot race past an unregistered ticker.
func (f *fixture) start(t *testing.T, viewer uuid.UUID) *Controller {
	t.Helper()
	c := NewController(f.event, f.script, viewer, Deps{
		RunStates: f.runs,
		Presence:  f.pres,
		Chat:      f.chats,
		Feed:      f.src,
		Prefs:     f.prefs,
	}, Config{
		DisplayTick:       500 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
		ResyncInterval:    time.Hour,
		ActiveWindow:      90 * time.Second,
		Clock:             f.clock,
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	f.clock.BlockUntil(5)
	return c
}

func waitTransition(t *testing.T, f *fakeRunStates) runstate.TransitionRequest {
	t.Helper()
	select {
	case req := <-f.transitioned:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition")
		return runstate.TransitionRequest{}
	}
}

func assertNoTransition(t *testing.T, f *fakeRunStates) {
	t.Helper()
	select {
	case req := <-f.transitioned:
		t.Fatalf("unexpected transition: %+v", req)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestControllerHostStart(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)

	require.NoError(t, c.HostStart(context.Background()))

	v := c.View()
	assert.Equal(t, models.RunModeRunning, v.Mode)
	assert.Equal(t, 0, v.SectionIndex)
	assert.Equal(t, 60, v.SecondsLeft)
	assert.Equal(t, "In session", v.RunStatusLabel)

	// Starting again mid-session is rejected.
	err := c.HostStart(context.Background())
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestControllerNonHostRejected(t *testing.T) {
	f := newFixture()
	c := f.start(t, uuid.New())

	assert.ErrorIs(t, c.HostStart(context.Background()), ErrNotHost)
	assert.ErrorIs(t, c.HostPause(context.Background()), ErrNotHost)
	assert.ErrorIs(t, c.HostGoTo(context.Background(), 1), ErrNotHost)
	assert.False(t, c.View().IsHost)
}

func TestControllerDisplayOnlyWithoutScript(t *testing.T) {
	f := newFixture()
	f.script = nil
	c := f.start(t, f.host)

	assert.ErrorIs(t, c.HostStart(context.Background()), ErrNoScript)
	assert.ErrorIs(t, c.SelectSectionForPreview(1), ErrNoScript)

	v := c.View()
	assert.False(t, v.ScriptAttached)
	assert.Equal(t, 0, v.SecondsLeft)
}

func TestControllerPauseResumeConservesElapsed(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	<-f.runs.transitioned

	f.clock.Advance(30 * time.Second)
	require.NoError(t, c.HostPause(ctx))
	<-f.runs.transitioned

	st := f.runs.current()
	assert.Equal(t, models.RunModePaused, st.Mode)
	assert.Equal(t, 30, st.ElapsedBeforePauseSec)
	assert.Nil(t, st.StartedAt)

	// The pause gap never counts against the countdown.
	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 30, c.View().SecondsLeft)

	require.NoError(t, c.HostResume(ctx))
	<-f.runs.transitioned

	st = f.runs.current()
	assert.Equal(t, models.RunModeRunning, st.Mode)
	assert.Equal(t, 30, st.ElapsedBeforePauseSec)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, f.clock.Now(), *st.StartedAt)
	assert.Equal(t, 30, c.View().SecondsLeft)
}

func TestControllerPauseAccumulatesAcrossCycles(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	f.clock.Advance(10 * time.Second)
	require.NoError(t, c.HostPause(ctx))
	require.NoError(t, c.HostResume(ctx))
	f.clock.Advance(15 * time.Second)
	require.NoError(t, c.HostPause(ctx))

	assert.Equal(t, 25, f.runs.current().ElapsedBeforePauseSec)
}

func TestControllerGoToResetsTimer(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	f.clock.Advance(20 * time.Second)
	require.NoError(t, c.HostGoTo(ctx, 1))

	st := f.runs.current()
	assert.Equal(t, 1, st.SectionIndex)
	assert.Equal(t, models.RunModeRunning, st.Mode)
	assert.Equal(t, 0, st.ElapsedBeforePauseSec)
	assert.Equal(t, 120, c.View().SecondsLeft)

	// Out-of-range targets clamp instead of failing.
	require.NoError(t, c.HostGoTo(ctx, 99))
	assert.Equal(t, 2, f.runs.current().SectionIndex)

	require.NoError(t, c.HostEnd(ctx))
	assert.ErrorIs(t, c.HostGoTo(ctx, 0), ErrInvalidAction)
}

func TestControllerAutoAdvanceFiresOncePerCrossing(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	<-f.runs.transitioned

	// Run section 0 (60s) to its zero crossing.
	f.clock.Advance(60 * time.Second)

	req := waitTransition(t, f.runs)
	assert.Equal(t, models.RunModeRunning, req.Mode)
	assert.Equal(t, 1, req.SectionIndex)
	assert.True(t, req.ResetTimer)

	// Further ticks on the fresh section request nothing.
	f.clock.Advance(time.Second)
	assertNoTransition(t, f.runs)

	st := f.runs.current()
	assert.Equal(t, 1, st.SectionIndex)
	assert.Equal(t, models.RunModeRunning, st.Mode)
}

func TestControllerAutoAdvanceEndsAfterLastSection(t *testing.T) {
	f := newFixture(models.ScriptSection{Name: "Only", Minutes: 1})
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	<-f.runs.transitioned

	f.clock.Advance(60 * time.Second)

	req := waitTransition(t, f.runs)
	assert.Equal(t, models.RunModeEnded, req.Mode)
	assert.Equal(t, 0, req.SectionIndex)

	v := c.View()
	assert.Equal(t, models.RunModeEnded, v.Mode)
	assert.Equal(t, "Completed", v.RunStatusLabel)
	assert.Equal(t, 0, v.SecondsLeft)
}

func TestControllerAutoAdvanceRetriesAfterFailure(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	<-f.runs.transitioned

	f.runs.failOnce(errors.New("storage offline"))
	f.clock.Advance(60 * time.Second)

	// First attempt fails and surfaces on the view; the cleared guard
	// lets a later tick retry the same crossing.
	require.Eventually(t, func() bool {
		return c.View().LastError != ""
	}, 2*time.Second, 10*time.Millisecond)

	f.clock.Advance(500 * time.Millisecond)
	req := waitTransition(t, f.runs)
	assert.Equal(t, 1, req.SectionIndex)

	require.Eventually(t, func() bool {
		return c.View().LastError == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestControllerNonHostNeverAdvances(t *testing.T) {
	f := newFixture()
	c := f.start(t, uuid.New())

	// Seed a running state directly in the store, as if the host did it.
	_, err := f.runs.Transition(context.Background(), f.event.ID, runstate.TransitionRequest{
		Mode:       models.RunModeRunning,
		ResetTimer: true,
	})
	require.NoError(t, err)
	<-f.runs.transitioned

	c.FollowHost() // no-op, keeps the controller referenced

	f.clock.Advance(2 * time.Minute)
	assertNoTransition(t, f.runs)
}

func TestControllerJoinLeaveSticky(t *testing.T) {
	f := newFixture()
	viewer := uuid.New()
	c := f.start(t, viewer)
	ctx := context.Background()

	require.NoError(t, c.Join(ctx))
	assert.True(t, c.View().Joined)
	assert.True(t, f.pres.has(viewer))
	assert.True(t, f.prefs.StickyJoin(f.event.ID))

	require.NoError(t, c.Leave(ctx))
	assert.False(t, c.View().Joined)
	assert.False(t, f.pres.has(viewer))
	assert.False(t, f.prefs.StickyJoin(f.event.ID))
}

func TestControllerSignedOutViewerReadsOnly(t *testing.T) {
	f := newFixture()
	c := f.start(t, uuid.Nil)
	ctx := context.Background()

	assert.ErrorIs(t, c.Join(ctx), auth.ErrNotSignedIn)
	assert.ErrorIs(t, c.SendMessage(ctx, "hi"), auth.ErrNotSignedIn)
	assert.ErrorIs(t, c.HostStart(ctx), ErrNotHost)
	assert.False(t, c.View().IsHost)
}

func TestControllerAutoJoin(t *testing.T) {
	t.Run("joins when both preferences set", func(t *testing.T) {
		f := newFixture()
		f.prefs = NewMemoryPreferences(true)
		f.prefs.SetStickyJoin(f.event.ID, true)
		viewer := uuid.New()

		c := f.start(t, viewer)
		assert.True(t, c.View().Joined)
		assert.True(t, f.pres.has(viewer))
	})

	t.Run("stays out without the sticky preference", func(t *testing.T) {
		f := newFixture()
		f.prefs = NewMemoryPreferences(true)
		viewer := uuid.New()

		c := f.start(t, viewer)
		assert.False(t, c.View().Joined)
		assert.False(t, f.pres.has(viewer))
	})

	t.Run("does not rewrite an existing row", func(t *testing.T) {
		f := newFixture()
		f.prefs = NewMemoryPreferences(true)
		f.prefs.SetStickyJoin(f.event.ID, true)
		viewer := uuid.New()

		require.NoError(t, f.pres.Join(context.Background(), f.event.ID, viewer))
		original := f.clock.Now()
		f.clock.Advance(time.Minute)

		c := f.start(t, viewer)
		assert.True(t, c.View().Joined)

		rows, err := f.pres.List(context.Background(), f.event.ID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, original, rows[0].LastSeenAt)
	})
}

func TestControllerHeartbeatGating(t *testing.T) {
	f := newFixture()
	viewer := uuid.New()
	c := f.start(t, viewer)
	ctx := context.Background()

	// Not joined yet: the interval passes with no beat.
	f.clock.Advance(10 * time.Second)
	select {
	case <-f.pres.heartbeats:
		t.Fatal("heartbeat before join")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.Join(ctx))
	f.clock.Advance(10 * time.Second)
	select {
	case <-f.pres.heartbeats:
	case <-time.After(2 * time.Second):
		t.Fatal("expected heartbeat after join")
	}

	// Backgrounded apps stop beating and decay out of the active set.
	c.SetForeground(false)
	drain(f.pres.heartbeats)
	f.clock.Advance(30 * time.Second)
	select {
	case <-f.pres.heartbeats:
		t.Fatal("heartbeat while backgrounded")
	case <-time.After(100 * time.Millisecond):
	}

	c.SetForeground(true)
	f.clock.Advance(10 * time.Second)
	select {
	case <-f.pres.heartbeats:
	case <-time.After(2 * time.Second):
		t.Fatal("expected heartbeat after foregrounding")
	}
}

func TestControllerPreview(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	f.clock.Advance(20 * time.Second)

	require.NoError(t, c.SelectSectionForPreview(1))
	v := c.View()
	assert.True(t, v.Previewing)
	assert.Equal(t, 1, v.PreviewSection)
	// Preview shows the section's full duration, static.
	assert.Equal(t, 120, v.SecondsLeft)
	assert.Equal(t, 0.0, v.SectionProgressPct)

	// The shared state is untouched by previewing.
	assert.Equal(t, 0, f.runs.current().SectionIndex)

	c.FollowHost()
	v = c.View()
	assert.False(t, v.Previewing)
	assert.Equal(t, 40, v.SecondsLeft)
}

func TestControllerChatOptimisticEcho(t *testing.T) {
	f := newFixture()
	viewer := uuid.New()
	c := f.start(t, viewer)
	ctx := context.Background()

	require.NoError(t, c.SendMessage(ctx, "hello room"))

	v := c.View()
	require.Len(t, v.Messages, 1)
	sent := v.Messages[0]
	assert.Equal(t, "hello room", sent.Body)

	// The change-feed echo of the same row does not duplicate it.
	row, err := json.Marshal(sent)
	require.NoError(t, err)
	f.src.push(feed.TableMessages, feed.Change{
		Table:   feed.TableMessages,
		Op:      feed.OpInsert,
		EventID: f.event.ID,
		Row:     row,
	})
	assert.Len(t, c.View().Messages, 1)

	f.clock.Advance(time.Second)
	require.NoError(t, c.SendEnergyGift(ctx, 3))
	v = c.View()
	require.Len(t, v.Messages, 2)
	assert.Equal(t, models.MessageKindEnergy, v.Messages[1].Kind)
	assert.Equal(t, 3, v.Messages[1].GiftAmount)
}

func TestControllerChatResyncKeepsFeedDeliveredMessages(t *testing.T) {
	f := newFixture()
	c := f.start(t, uuid.New())

	// One message is in stored history before the room opens a resync.
	older, err := f.chats.Send(context.Background(), f.event.ID, f.host, "earlier")
	require.NoError(t, err)

	// A newer message arrives over the change feed only; the bounded
	// history snapshot served by List never includes it.
	newest := models.ChatMessage{
		ID:        uuid.New(),
		EventID:   f.event.ID,
		UserID:    f.host,
		Kind:      models.MessageKindText,
		Body:      "hot off the feed",
		CreatedAt: f.clock.Now().Add(time.Second),
	}
	row, err := json.Marshal(newest)
	require.NoError(t, err)
	f.src.push(feed.TableMessages, feed.Change{
		Table:   feed.TableMessages,
		Op:      feed.OpInsert,
		EventID: f.event.ID,
		Row:     row,
	})
	require.Len(t, c.View().Messages, 1)

	listed := f.chats.listCount()
	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool {
		return f.chats.listCount() > listed && len(c.View().Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The reload reconciles against the snapshot without discarding the
	// newer row the snapshot window missed.
	v := c.View()
	require.Len(t, v.Messages, 2)
	assert.Equal(t, older.ID, v.Messages[0].ID)
	assert.Equal(t, newest.ID, v.Messages[1].ID)
}

func TestControllerStaleFeedDeliveryIgnored(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))

	// A delivery stamped before the confirmed state must not roll the
	// view back.
	stale := models.RunState{
		EventID:   f.event.ID,
		Version:   1,
		Mode:      models.RunModeIdle,
		UpdatedAt: ctrlBase.Add(-time.Minute),
	}
	row, err := json.Marshal(stale)
	require.NoError(t, err)
	f.src.push(feed.TableRunState, feed.Change{
		Table:   feed.TableRunState,
		Op:      feed.OpUpdate,
		EventID: f.event.ID,
		Row:     row,
	})

	assert.Equal(t, models.RunModeRunning, c.View().Mode)
}

func TestControllerFeedDeliveryUpdatesView(t *testing.T) {
	f := newFixture()
	c := f.start(t, uuid.New())

	started := ctrlBase.Add(time.Second)
	next := models.RunState{
		EventID:      f.event.ID,
		Version:      1,
		Mode:         models.RunModeRunning,
		SectionIndex: 1,
		StartedAt:    &started,
		UpdatedAt:    started,
	}
	row, err := json.Marshal(next)
	require.NoError(t, err)
	f.src.push(feed.TableRunState, feed.Change{
		Table:   feed.TableRunState,
		Op:      feed.OpUpdate,
		EventID: f.event.ID,
		Row:     row,
	})

	v := c.View()
	assert.Equal(t, models.RunModeRunning, v.Mode)
	assert.Equal(t, 1, v.SectionIndex)
}

func TestControllerCloseStopsEverything(t *testing.T) {
	f := newFixture()
	c := f.start(t, f.host)
	ctx := context.Background()

	require.NoError(t, c.HostStart(ctx))
	c.Close()

	assert.ErrorIs(t, c.Join(ctx), ErrRoomClosed)
	assert.ErrorIs(t, c.HostPause(ctx), ErrRoomClosed)
	assert.ErrorIs(t, c.SendMessage(ctx, "late"), ErrRoomClosed)

	// Feed callbacks are unsubscribed; a post-close delivery changes
	// nothing.
	modeBefore := c.View().Mode
	row, err := json.Marshal(models.RunState{
		EventID:   f.event.ID,
		Version:   1,
		Mode:      models.RunModeEnded,
		UpdatedAt: f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	f.src.push(feed.TableRunState, feed.Change{
		Table:   feed.TableRunState,
		Op:      feed.OpUpdate,
		EventID: f.event.ID,
		Row:     row,
	})
	assert.Equal(t, modeBefore, c.View().Mode)

	// Close is idempotent.
	c.Close()
}

func TestControllerPresenceFromFeed(t *testing.T) {
	f := newFixture()
	c := f.start(t, uuid.New())

	other := models.PresenceRow{
		EventID:    f.event.ID,
		UserID:     uuid.New(),
		JoinedAt:   f.clock.Now(),
		LastSeenAt: f.clock.Now(),
	}
	row, err := json.Marshal(other)
	require.NoError(t, err)
	f.src.push(feed.TablePresence, feed.Change{
		Table:   feed.TablePresence,
		Op:      feed.OpInsert,
		EventID: f.event.ID,
		Row:     row,
	})

	v := c.View()
	assert.Equal(t, 1, v.ActiveCount)
	require.Len(t, v.Active, 1)
	assert.Equal(t, other.UserID, v.Active[0].UserID)

	// Past the active window the row decays to recent.
	f.clock.Advance(2 * time.Minute)
	v = c.View()
	assert.Equal(t, 0, v.ActiveCount)
	assert.Len(t, v.Recent, 1)
}

func drain(ch chan uuid.UUID) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
