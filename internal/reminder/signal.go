package reminder

import (
	"context"
	"sync"
	"time"
)

// TakenSignal is a resettable one-shot event raised when the pillbox
// reports the medication as taken.
type TakenSignal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func NewTakenSignal() *TakenSignal {
	return &TakenSignal{ch: make(chan struct{})}
}

func (s *TakenSignal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear rearms the signal so that only a later Set wakes the next Wait.
func (s *TakenSignal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

func (s *TakenSignal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait reports whether the signal was raised within timeout. It returns
// false when ctx ends first.
func (s *TakenSignal) Wait(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
