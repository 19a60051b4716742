package pillbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medminder/internal/ledger"
	"medminder/internal/logging"
	"medminder/internal/reminder"
	"medminder/pkg/models"
)

// Monday.
var monday = time.Date(2026, 3, 9, 10, 5, 0, 0, time.Local)

type speaker struct {
	mu   sync.Mutex
	said []string
}

func (s *speaker) Say(_ context.Context, text string) error {
	s.mu.Lock()
	s.said = append(s.said, text)
	s.mu.Unlock()
	return nil
}

func (s *speaker) Said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

type fixture struct {
	store    *ledger.MemoryStore
	ledger   *ledger.Ledger
	tracker  *reminder.Tracker
	speaker  *speaker
	listener *Listener
	patient  models.Patient
}

func newFixture(t *testing.T, open Opener) *fixture {
	t.Helper()
	clock := func() time.Time { return monday }
	f := &fixture{
		store:   ledger.NewMemoryStore(),
		tracker: reminder.NewTracker(),
		speaker: &speaker{},
	}
	p, err := f.store.CreatePatient(context.Background(), models.Patient{Name: "Athlete Joan", Medicine: "Iron Supplement", TimeDue: "12:00"})
	require.NoError(t, err)
	f.patient = p
	f.ledger = ledger.New(f.store, ledger.WithClock(clock), ledger.WithLogger(logging.Discard()))
	f.listener = NewListener(Config{
		Open:       open,
		Tracker:    f.tracker,
		Ledger:     f.ledger,
		Voice:      f.speaker,
		Clock:      clock,
		Logger:     logging.Discard(),
		MinBackoff: time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
	})
	return f
}

func (f *fixture) entries(t *testing.T) []models.LogEntry {
	t.Helper()
	all, err := f.store.ListAllEntries(context.Background())
	require.NoError(t, err)
	return all
}

func TestParseLine(t *testing.T) {
	ev, ok := ParseLine("OPENEVENT:Tue\r")
	require.True(t, ok)
	assert.Equal(t, OpenEvent{Day: "Tue", FullDay: "Tuesday"}, ev)

	ev, ok = ParseLine("OPENEVENT:Fri:slot=3")
	require.True(t, ok)
	assert.Equal(t, "Fri", ev.Day)

	for _, line := range []string{
		"", "OPENEVENT:", "OPENEVENT:tue", "OPENEVENT:Tuesday", "CLOSEEVENT:Tue", "hello", "OPENEVENT:\xff\xfe",
	} {
		_, ok := ParseLine(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestOpenForTodayDuringCycleRecordsAndSignals(t *testing.T) {
	f := newFixture(t, nil)
	c := f.tracker.Begin(f.patient, monday)

	res := f.listener.HandleLine(context.Background(), "OPENEVENT:Mon")

	assert.Equal(t, ResultRecorded, res)
	assert.True(t, c.Signal().IsSet())
	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusTaken, entries[0].Status)
	assert.Equal(t, models.SourceHardware, entries[0].Source)
	assert.Equal(t, "Taken via pillbox.", entries[0].Notes)
	assert.Equal(t, []string{"Thank you for taking your medication."}, f.speaker.Said())
}

func TestOpenForTodayWithoutCycle(t *testing.T) {
	f := newFixture(t, nil)

	res := f.listener.HandleLine(context.Background(), "OPENEVENT:Mon")

	assert.Equal(t, ResultNoActiveCycle, res)
	assert.Empty(t, f.entries(t))
	assert.Equal(t, []string{"Pillbox opened."}, f.speaker.Said())
}

func TestOpenForOtherDayNeverWrites(t *testing.T) {
	f := newFixture(t, nil)
	c := f.tracker.Begin(f.patient, monday)

	res := f.listener.HandleLine(context.Background(), "OPENEVENT:Wed")

	assert.Equal(t, ResultDayMismatch, res)
	assert.False(t, c.Signal().IsSet())
	assert.Empty(t, f.entries(t))
	assert.Equal(t, []string{"The pillbox for Wednesday has been opened. Today is Monday."}, f.speaker.Said())
}

func TestOpenAfterCycleEndedWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	c := f.tracker.Begin(f.patient, monday)
	f.tracker.End(c)

	res := f.listener.HandleLine(context.Background(), "OPENEVENT:Mon")

	assert.Equal(t, ResultNoActiveCycle, res)
	assert.False(t, c.Signal().IsSet())
	assert.Empty(t, f.entries(t))
}

func TestRecordFailureDoesNotSignal(t *testing.T) {
	f := newFixture(t, nil)
	c := f.tracker.Begin(f.patient, monday)
	f.store.FailUpserts(1)

	res := f.listener.HandleLine(context.Background(), "OPENEVENT:Mon")

	assert.Equal(t, ResultRecordFailed, res)
	assert.False(t, c.Signal().IsSet())
	assert.Equal(t, []string{"Pillbox opened, but could not record the current patient."}, f.speaker.Said())
}

func TestMalformedLinesAreIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.tracker.Begin(f.patient, monday)

	for _, line := range []string{"garbage", "OPENEVENT:Xyz", "OPENEVENT:\xc3\x28"} {
		assert.Equal(t, ResultIgnored, f.listener.HandleLine(context.Background(), line))
	}
	assert.Empty(t, f.speaker.Said())
	assert.Empty(t, f.entries(t))
}

func TestRunDisablesWhenPortCannotOpen(t *testing.T) {
	f := newFixture(t, func() (io.ReadCloser, error) { return nil, errors.New("no such device") })

	err := f.listener.Run(context.Background())
	assert.ErrorContains(t, err, "no such device")
}

func TestRunReadsUntilCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	f := newFixture(t, func() (io.ReadCloser, error) { return pr, nil })
	f.tracker.Begin(f.patient, monday)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.listener.Run(ctx) }()

	_, err := io.WriteString(pw, "noise\nOPENEVENT:Mon\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.entries(t)) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancellation")
	}
}

func TestRunReconnectsAfterReadFailure(t *testing.T) {
	var opens int32
	f := newFixture(t, func() (io.ReadCloser, error) {
		switch atomic.AddInt32(&opens, 1) {
		case 1:
			return io.NopCloser(strings.NewReader("OPENEVENT:Wed\n")), nil
		case 2:
			return nil, errors.New("device busy")
		}
		return io.NopCloser(strings.NewReader("OPENEVENT:Mon\n")), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.listener.Run(ctx)

	require.Eventually(t, func() bool {
		return len(f.speaker.Said()) >= 2
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&opens), int32(3))
	assert.Equal(t, "The pillbox for Wednesday has been opened. Today is Monday.", f.speaker.Said()[0])
	assert.Equal(t, "Pillbox opened.", f.speaker.Said()[1])
}

func TestRunStopsWhileReconnecting(t *testing.T) {
	var opens int32
	f := newFixture(t, func() (io.ReadCloser, error) {
		if atomic.AddInt32(&opens, 1) == 1 {
			return io.NopCloser(strings.NewReader("")), nil
		}
		return nil, errors.New("unplugged")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.listener.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&opens) >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener kept retrying after cancellation")
	}
}
