package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Source is anything that can deliver filtered change notifications.
type Source interface {
	Subscribe(table string, eventID uuid.UUID, fn func(Change)) func()
}

// SyncConfig holds configuration for a resynchronizing subscription.
type SyncConfig struct {
	Interval time.Duration
	Clock    clockwork.Clock
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval: 60 * time.Second,
		Clock:    clockwork.NewRealClock(),
	}
}

// Sync pairs a change-feed subscription with a periodic full
// reload-and-reconcile. The subscription applies incremental changes; the
// reload heals from dropped notifications, so consumer state is at worst
// one interval stale, never permanently wrong. Reload errors are logged
// and retried on the next tick.
type Sync struct {
	src      Source
	table    string
	eventID  uuid.UUID
	onChange func(Change)
	reload   func(context.Context) error
	cfg      SyncConfig

	cancelSub func()
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSync(src Source, table string, eventID uuid.UUID, onChange func(Change), reload func(context.Context) error, cfg SyncConfig) *Sync {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyncConfig().Interval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Sync{
		src:      src,
		table:    table,
		eventID:  eventID,
		onChange: onChange,
		reload:   reload,
		cfg:      cfg,
	}
}

// Start subscribes and begins the resync loop. The subscription is
// registered before the initial reload so changes racing the first load
// are not missed.
func (s *Sync) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.done = make(chan struct{})
		s.cancelSub = s.src.Subscribe(s.table, s.eventID, s.onChange)
		go s.run(runCtx)
	})
}

func (s *Sync) run(ctx context.Context) {
	defer close(s.done)

	if err := s.reload(ctx); err != nil {
		log.Error().
			Err(err).
			Str("table", s.table).
			Str("event_id", s.eventID.String()).
			Msg("initial reload failed; will retry on next resync")
	}

	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.reload(ctx); err != nil {
				log.Error().
					Err(err).
					Str("table", s.table).
					Str("event_id", s.eventID.String()).
					Msg("resync reload failed")
			}
		}
	}
}

// Stop cancels the subscription and waits for the resync loop to exit.
// No callbacks are delivered after Stop returns.
func (s *Sync) Stop() {
	s.stopOnce.Do(func() {
		if s.cancelSub != nil {
			s.cancelSub()
		}
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}
