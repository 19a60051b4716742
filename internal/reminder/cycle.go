package reminder

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"medminder/pkg/models"
)

type State string

const (
	StateAnnounced        State = "ANNOUNCED"
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	StateRetry            State = "RETRY"
	StateDelayedWait      State = "DELAYED_WAIT"
	StateDone             State = "DONE"
	StateEscalated        State = "ESCALATED"
	StateAborted          State = "ABORTED"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateEscalated || s == StateAborted
}

// Cycle is one reminder conversation for one patient on one day.
type Cycle struct {
	ID        string
	Patient   models.Patient
	Day       string
	StartedAt time.Time

	taken *TakenSignal

	mu        sync.Mutex
	state     State
	reminders int
	delays    int
}

func newCycle(p models.Patient, now time.Time) *Cycle {
	return &Cycle{
		ID:        uuid.NewString(),
		Patient:   p,
		Day:       models.DayKey(now),
		StartedAt: now,
		taken:     NewTakenSignal(),
		state:     StateAnnounced,
	}
}

// MarkTaken raises the cycle's taken-signal.
func (c *Cycle) MarkTaken() { c.taken.Set() }

func (c *Cycle) Signal() *TakenSignal { return c.taken }

func (c *Cycle) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cycle) Reminders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reminders
}

func (c *Cycle) Delays() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delays
}

func (c *Cycle) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Cycle) addReminder() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reminders++
	return c.reminders
}

func (c *Cycle) addDelay() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays++
	return c.delays
}

// Snapshot is a read-only view of a cycle for diagnostics.
type Snapshot struct {
	ID        string    `json:"id"`
	Patient   string    `json:"patient"`
	Day       string    `json:"day"`
	State     State     `json:"state"`
	Reminders int       `json:"reminders"`
	Delays    int       `json:"delays"`
	StartedAt time.Time `json:"started_at"`
}

func (c *Cycle) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:        c.ID,
		Patient:   c.Patient.Name,
		Day:       c.Day,
		State:     c.state,
		Reminders: c.reminders,
		Delays:    c.delays,
		StartedAt: c.StartedAt,
	}
}

// Tracker knows which cycle, if any, is in progress.
type Tracker struct {
	mu     sync.RWMutex
	active *Cycle
}

func NewTracker() *Tracker { return &Tracker{} }

// Begin creates and registers a cycle, replacing any previous one.
func (t *Tracker) Begin(p models.Patient, now time.Time) *Cycle {
	c := newCycle(p, now)
	t.mu.Lock()
	t.active = c
	t.mu.Unlock()
	return c
}

// End unregisters c. A newer cycle registered since is left alone.
func (t *Tracker) End(c *Cycle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == c {
		t.active = nil
	}
}

// Active returns the current cycle or nil.
func (t *Tracker) Active() *Cycle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}
