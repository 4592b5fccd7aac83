// Package session maps Discord channels to backend conversation threads and
// serializes the turns of each channel.
package session

import (
	"context"
	"sync"

	"github.com/evex-dev/rakubot/internal/rakuten"
)

// Session pairs a channel with its backend thread and a serialized turn
// queue. At most one turn per Session is in flight at any time; turns run in
// the order their slots were claimed with Enqueue. Sessions are created by a
// Registry and must not be copied.
type Session struct {
	ChannelID string

	mu     sync.Mutex
	tail   chan struct{}
	seed   string
	open   ThreadOpener
	thread *rakuten.Thread
}

// Turn is one claimed slot in a Session's queue.
type Turn struct {
	prev <-chan struct{}
	done chan struct{}
}

// Enqueue claims the next queue slot and returns immediately. Claim order is
// execution order, so the caller must Enqueue on the path that defines
// arrival order and only then hand the Turn to a worker goroutine.
func (s *Session) Enqueue() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Turn{prev: s.tail, done: make(chan struct{})}
	s.tail = t.done
	return t
}

// Run waits for every earlier Turn of the Session to finish, executes fn, and
// releases the slot when fn returns or panics. Turns on different Sessions do
// not affect each other.
func (t *Turn) Run(fn func() error) error {
	// The slot must be released on every exit path, including a panic,
	// or the channel's queue deadlocks permanently.
	defer close(t.done)

	if t.prev != nil {
		<-t.prev
	}
	return fn()
}

// Thread returns the Session's backend thread, opening one on first use.
// First use happens inside the serialized queue, so creation is
// single-flight; after a failed open the next turn retries.
func (s *Session) Thread(ctx context.Context) (*rakuten.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread != nil {
		return s.thread, nil
	}
	thread, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.thread = thread
	return thread, nil
}

// TakeSeed returns the seeded system-context block and clears it, so it is
// injected into the first turn only. Returns "" on every later call.
func (s *Session) TakeSeed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed := s.seed
	s.seed = ""
	return seed
}
