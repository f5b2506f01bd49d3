package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/egregor-app/egregor/go/internal/feed"
	"github.com/egregor-app/egregor/go/internal/models"
)

// DefaultActiveWindow is how long after its last heartbeat a row still
// counts as active. With ~10s heartbeats this tolerates a couple of
// missed beats without flapping.
const DefaultActiveWindow = 90 * time.Second

// Snapshot partitions an event's presence rows at a point in time.
// Active rows heartbeated within the window; recent rows are stale but
// have not explicitly left.
type Snapshot struct {
	Active []models.PresenceRow
	Recent []models.PresenceRow
}

// Tracker maintains the in-memory presence set for one event, fed by
// incremental change-feed events keyed on (event, user) and healed by
// periodic full resyncs. It answers "who is here now" without a fetch.
type Tracker struct {
	eventID uuid.UUID
	window  time.Duration

	mu   sync.RWMutex
	rows map[uuid.UUID]models.PresenceRow
}

func NewTracker(eventID uuid.UUID, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	return &Tracker{
		eventID: eventID,
		window:  window,
		rows:    make(map[uuid.UUID]models.PresenceRow),
	}
}

// Apply merges one change-feed event into the set by (event, user) key.
func (t *Tracker) Apply(c feed.Change) {
	if c.EventID != t.eventID {
		return
	}

	switch c.Op {
	case feed.OpInsert, feed.OpUpdate:
		var row models.PresenceRow
		if err := json.Unmarshal(c.Row, &row); err != nil {
			log.Error().Err(err).Str("event_id", t.eventID.String()).Msg("invalid presence row in change feed")
			return
		}
		t.mu.Lock()
		t.rows[row.UserID] = row
		t.mu.Unlock()
	case feed.OpDelete:
		userID, err := uuid.Parse(c.Key)
		if err != nil {
			log.Error().Err(err).Str("key", c.Key).Msg("invalid presence delete key in change feed")
			return
		}
		t.mu.Lock()
		delete(t.rows, userID)
		t.mu.Unlock()
	}
}

// Replace reconciles against a full snapshot from storage. Rows absent
// from the snapshot are dropped, so a missed delete heals here.
func (t *Tracker) Replace(rows []models.PresenceRow) {
	next := make(map[uuid.UUID]models.PresenceRow, len(rows))
	for _, row := range rows {
		if row.EventID != t.eventID {
			continue
		}
		next[row.UserID] = row
	}
	t.mu.Lock()
	t.rows = next
	t.mu.Unlock()
}

// Has reports whether the user currently has a presence row.
func (t *Tracker) Has(userID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[userID]
	return ok
}

// Snapshot partitions the set into active and recent as of now, each
// ordered by join time.
func (t *Tracker) Snapshot(now time.Time) Snapshot {
	t.mu.RLock()
	all := make([]models.PresenceRow, 0, len(t.rows))
	for _, row := range t.rows {
		all = append(all, row)
	}
	t.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].JoinedAt.Equal(all[j].JoinedAt) {
			return all[i].JoinedAt.Before(all[j].JoinedAt)
		}
		return all[i].UserID.String() < all[j].UserID.String()
	})

	var snap Snapshot
	for _, row := range all {
		if now.Sub(row.LastSeenAt) <= t.window {
			snap.Active = append(snap.Active, row)
		} else {
			snap.Recent = append(snap.Recent, row)
		}
	}
	return snap
}

// ActiveCount reports how many rows are active as of now.
func (t *Tracker) ActiveCount(now time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, row := range t.rows {
		if now.Sub(row.LastSeenAt) <= t.window {
			count++
		}
	}
	return count
}
