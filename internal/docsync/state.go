package docsync

import (
	"context"
	"sync"
)

// State holds the current text of one open document.
//
// It is a latest-value cell with a single consumer: Publish replaces the
// value and wakes the consumer, Next hands the consumer the newest value it
// has not seen yet. Publishes that land while the consumer is busy collapse
// into one wakeup carrying only the last text.
type State struct {
	mu       sync.Mutex
	text     string
	version  uint64
	observed uint64
	closed   bool

	// deliverMu serialises Deliver against Close without holding mu.
	deliverMu sync.Mutex

	// notify holds at most one pending wakeup.
	notify chan struct{}
	done   chan struct{}
}

// NewState creates a state holding text as its first, not yet observed, value.
func NewState(text string) *State {
	return &State{
		text:    text,
		version: 1,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Publish replaces the held text and wakes the consumer.
// Publishing to a closed state returns ErrLifecycleViolation.
func (s *State) Publish(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrLifecycleViolation
	}
	s.text = text
	s.version++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Current returns the latest published text without waiting.
func (s *State) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Version returns the number of values published so far, including the initial one.
func (s *State) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Next blocks until a value newer than the last one returned by Next is
// available and returns it. The first call returns the initial text
// immediately. Once the state is closed Next returns ErrDocumentClosed,
// even if an unobserved value is pending.
func (s *State) Next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrDocumentClosed
		}
		if s.version > s.observed {
			s.observed = s.version
			text := s.text
			s.mu.Unlock()
			return text, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Deliver runs fn unless the state is closed, and reports whether it ran.
// Close waits for a running fn, so nothing delivered through here can
// arrive after Close returns.
func (s *State) Deliver(fn func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.Closed() {
		return false
	}
	fn()
	return true
}

// Close tears the state down. Further Publish calls fail and a waiting
// Next returns ErrDocumentClosed. Close is idempotent.
func (s *State) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()

	s.deliverMu.Lock()
	// Wait out a Deliver that started before closed was set.
	s.deliverMu.Unlock()
}

// Closed reports whether Close has been called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
