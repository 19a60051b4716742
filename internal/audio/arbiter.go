// Package audio owns the single speaker/microphone pair of the device.
package audio

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Arbiter serializes access to the audio device. Exactly one capture or
// playback operation runs at a time; holders never keep it across a turn.
type Arbiter struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	holder string
}

func NewArbiter() *Arbiter {
	return &Arbiter{sem: semaphore.NewWeighted(1)}
}

// Do waits for the device, runs fn, and releases the device when fn returns.
// It returns ctx.Err() if ctx ends before the device is free.
func (a *Arbiter) Do(ctx context.Context, op string, fn func() error) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	a.setHolder(op)
	defer func() {
		a.setHolder("")
		a.sem.Release(1)
	}()
	return fn()
}

// Holder names the operation currently using the device, or "".
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}

func (a *Arbiter) setHolder(op string) {
	a.mu.Lock()
	a.holder = op
	a.mu.Unlock()
}
