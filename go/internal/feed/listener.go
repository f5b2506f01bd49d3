package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ListenerConfig holds configuration for the Postgres change listener.
type ListenerConfig struct {
	DatabaseURL   string // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string // Channel name to LISTEN on
	PingInterval  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		DatabaseURL:   "",
		NotifyChannel: "egregor_row_changes",
		PingInterval:  90 * time.Second,
	}
}

// Listener receives row-change notifications from Postgres and fans them
// out to table subscribers. Notifications can be silently dropped across
// reconnects, so every subscriber also resyncs on a timer (see Sync).
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig

	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]subscription
}

type subscription struct {
	eventID uuid.UUID
	fn      func(Change)
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for row changes")

	return &Listener{
		listener: l,
		cfg:      cfg,
		subs:     make(map[string]map[int]subscription),
	}, nil
}

// Subscribe registers fn for changes to table rows belonging to eventID.
// The returned cancel func removes the registration; after it returns no
// further callbacks are delivered for it.
func (l *Listener) Subscribe(table string, eventID uuid.UUID, fn func(Change)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.subs[table] == nil {
		l.subs[table] = make(map[int]subscription)
	}
	id := l.nextID
	l.nextID++
	l.subs[table][id] = subscription{eventID: eventID, fn: fn}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs[table], id)
		if len(l.subs[table]) == 0 {
			delete(l.subs, table)
		}
	}
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Msg("change listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost and
				// re-established; subscribers heal via their resync tick
				continue
			}
			l.dispatch(note.Extra)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

func (l *Listener) dispatch(payload string) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		log.Error().Err(err).Msg("invalid change notification payload")
		return
	}

	l.mu.RLock()
	var targets []func(Change)
	for _, sub := range l.subs[change.Table] {
		if sub.eventID != uuid.Nil && sub.eventID != change.EventID {
			continue
		}
		targets = append(targets, sub.fn)
	}
	l.mu.RUnlock()

	for _, fn := range targets {
		fn(change)
	}

	log.Debug().
		Str("table", change.Table).
		Str("op", string(change.Op)).
		Str("event_id", change.EventID.String()).
		Int("subscribers", len(targets)).
		Msg("change dispatched")
}
