package chat

import (
	"sync"

	"github.com/egregor-app/egregor/go/internal/models"
)

// Log is an in-memory, stably ordered, duplicate-free message list for
// one event room, maintained under a real-time insert feed plus periodic
// resync. Render order is (CreatedAt, ID) ascending; the ID tie-break
// keeps ordering total when timestamps collide.
//
// The log also tracks the autoscroll policy: while the viewer is at the
// bottom new messages are followed, otherwise they accumulate in an
// unread count instead of moving the viewport.
type Log struct {
	mu           sync.RWMutex
	msgs         []models.ChatMessage
	followBottom bool
	unread       int
}

func NewLog() *Log {
	return &Log{
		followBottom: true,
	}
}

func messageLess(a, b models.ChatMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Upsert merges one incoming message. If the ID already exists the row
// is replaced in place (edit or redelivery, including the change-feed
// echo of an optimistic send); otherwise it is inserted at its sort
// position. Late arrivals walk back from the tail, a bounded correction
// rather than a full resort.
func (l *Log) Upsert(msg models.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.upsertLocked(msg, true)
}

func (l *Log) upsertLocked(msg models.ChatMessage, countUnread bool) {
	for i := range l.msgs {
		if l.msgs[i].ID == msg.ID {
			l.msgs[i] = msg
			return
		}
	}

	pos := len(l.msgs)
	for pos > 0 && messageLess(msg, l.msgs[pos-1]) {
		pos--
	}
	l.msgs = append(l.msgs, models.ChatMessage{})
	copy(l.msgs[pos+1:], l.msgs[pos:])
	l.msgs[pos] = msg

	if countUnread && !l.followBottom {
		l.unread++
	}
}

// Merge reconciles a history snapshot from storage into the log. The
// snapshot is bounded, so rows the change feed already delivered but the
// snapshot window missed are kept rather than discarded; known IDs are
// refreshed in place. The unread count is left alone since resync is a
// healing pass, not new traffic.
func (l *Log) Merge(msgs []models.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range msgs {
		l.upsertLocked(msg, false)
	}
}

// Messages returns a copy of the ordered list.
func (l *Log) Messages() []models.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ChatMessage, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// SetFollowBottom records whether the viewer is scrolled to the bottom.
// Returning to the bottom clears the unread count.
func (l *Log) SetFollowBottom(follow bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.followBottom = follow
	if follow {
		l.unread = 0
	}
}

// Unread reports messages that arrived while the viewer was scrolled up.
func (l *Log) Unread() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unread
}

// Len reports the number of messages held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
