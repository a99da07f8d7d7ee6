package stream

import (
	"context"
	"sync"

	"trustcenter.dev/internal/trust"
)

// Stream fan-outs activity entries to all active subscribers (SSE clients).
type Stream struct {
	mu     sync.RWMutex
	subs   map[int]chan trust.ActivityLog
	next   int
	buffer int

	done      chan struct{}
	closeOnce sync.Once
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs:   make(map[int]chan trust.ActivityLog),
		buffer: 16,
		done:   make(chan struct{}),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive entries.
// The channel is closed when the provided context ends or the stream is closed.
func (s *Stream) Subscribe(ctx context.Context) <-chan trust.ActivityLog {
	ch := make(chan trust.ActivityLog, s.buffer)

	select {
	case <-s.done:
		close(ch)
		return ch
	default:
	}

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Close ends every subscription and makes later ones return closed channels.
// It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Publish fan-outs the entry to all subscribers.
func (s *Stream) Publish(entry trust.ActivityLog) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- entry:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of connected subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
