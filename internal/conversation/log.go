// Package conversation holds the append-only message log of a session and the
// optional on-disk transcript.
package conversation

import (
	"sync"

	"github.com/ashureev/campus-companion/internal/domain"
	"github.com/ashureev/campus-companion/internal/metrics"
)

// Log is an ordered, append-only list of messages. Messages are never edited
// or removed. Safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	messages []domain.Message
	subs     map[int]chan domain.Message
	nextSub  int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{subs: make(map[int]chan domain.Message)}
}

// Append adds msg to the end of the log and notifies subscribers.
// Slow subscribers miss messages rather than block the append.
func (l *Log) Append(msg domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	for _, ch := range l.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Messages returns a copy of every message in order.
func (l *Log) Messages() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message.
func (l *Log) Last() (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return domain.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Subscribe returns a channel receiving every message appended from now on.
// The returned func unsubscribes and closes the channel.
func (l *Log) Subscribe(buffer int) (<-chan domain.Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Message, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
