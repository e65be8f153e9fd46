// Package messagelog provides the append-only message log of a single run.
package messagelog

import (
	"sync"
	"time"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

// Log is an append-only, strictly ordered message store. Indices are
// assigned at append time and are gap-free starting at 0.
type Log struct {
	mu       sync.RWMutex
	messages []domain.Message
	now      func() time.Time
}

// New creates an empty log.
func New() *Log {
	return &Log{now: time.Now}
}

// NewWithClock creates an empty log stamping messages with now.
func NewWithClock(now func() time.Time) *Log {
	return &Log{now: now}
}

// Append stores msg at the next index and returns the stored copy.
// CreatedAt is never earlier than the previous message's.
func (l *Log) Append(msg domain.Message) domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg.Index = uint64(len(l.messages))
	msg.CreatedAt = l.now()
	if n := len(l.messages); n > 0 {
		if last := l.messages[n-1].CreatedAt; msg.CreatedAt.Before(last) {
			msg.CreatedAt = last
		}
	}
	l.messages = append(l.messages, msg)
	return msg
}

// Since returns the messages with index >= cursor, in index order. The
// cursor is the number of messages the caller has already seen; a cursor
// at or past the end yields an empty slice.
func (l *Log) Since(cursor uint64) []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if cursor >= uint64(len(l.messages)) {
		return []domain.Message{}
	}
	out := make([]domain.Message, len(l.messages)-int(cursor))
	copy(out, l.messages[cursor:])
	return out
}

// Len returns the number of messages appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Reset drops every message. The caller must ensure no writer of the
// previous run can still append.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}
