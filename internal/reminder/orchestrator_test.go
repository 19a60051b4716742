package reminder

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medminder/internal/alert"
	"medminder/internal/intent"
	"medminder/internal/ledger"
	"medminder/internal/logging"
	"medminder/pkg/models"
)

var hamad = models.Patient{ID: 1, Name: "Student Hamad", Medicine: "Vitamin B", TimeDue: "10:00"}

type scriptedVoice struct {
	mu       sync.Mutex
	replies  []string
	said     []string
	listens  int
	onSay    func(text string)
	onListen func(n int)
}

func (v *scriptedVoice) Say(_ context.Context, text string) error {
	v.mu.Lock()
	v.said = append(v.said, text)
	hook := v.onSay
	v.mu.Unlock()
	if hook != nil {
		hook(text)
	}
	return nil
}

func (v *scriptedVoice) Listen(context.Context) (string, error) {
	v.mu.Lock()
	v.listens++
	n := v.listens
	var reply string
	if len(v.replies) > 0 {
		reply, v.replies = v.replies[0], v.replies[1:]
	}
	hook := v.onListen
	v.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return reply, nil
}

func (v *scriptedVoice) Said() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.said...)
}

// keywordClassifier mimics the LLM for the handful of phrases the tests use.
type keywordClassifier struct{}

func (keywordClassifier) Classify(_ context.Context, text string, _ intent.Hints) (intent.Result, error) {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "yes"), strings.Contains(t, "took"):
		return intent.Result{Kind: intent.Confirmation, Value: intent.Yes}, nil
	case strings.Contains(t, "not yet"), t == "no":
		return intent.Result{Kind: intent.Confirmation, Value: intent.No}, nil
	case strings.Contains(t, "later"), strings.Contains(t, "minutes"):
		return intent.Result{Kind: intent.Delay}, nil
	}
	return intent.UnknownResult, nil
}

type harness struct {
	store   *ledger.MemoryStore
	ledger  *ledger.Ledger
	alerts  *alert.Dispatcher
	tracker *Tracker
	voice   *scriptedVoice
	orch    *Orchestrator
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	h := &harness{
		store:   ledger.NewMemoryStore(models.Patient{Name: hamad.Name, Medicine: hamad.Medicine, TimeDue: hamad.TimeDue}),
		tracker: NewTracker(),
		voice:   &scriptedVoice{replies: replies},
	}
	h.ledger = ledger.New(h.store, ledger.WithLogger(logging.Discard()))
	h.alerts = alert.NewDispatcher(alert.Config{}, logging.Discard())
	h.orch = NewOrchestrator(Deps{
		Ledger:     h.ledger,
		Alerts:     h.alerts,
		Voice:      h.voice,
		Classifier: keywordClassifier{},
		Tracker:    h.tracker,
		Logger:     logging.Discard(),
	}, Options{
		MaxReminders:       3,
		MaxDelays:          3,
		DelayWait:          40 * time.Millisecond,
		NoResponseGrace:    time.Millisecond,
		LedgerRetries:      2,
		LedgerRetryBackoff: time.Millisecond,
	})
	return h
}

func (h *harness) status(t *testing.T) models.Status {
	t.Helper()
	st, err := h.ledger.TodayStatus(context.Background(), hamad.ID)
	require.NoError(t, err)
	return st
}

// pillbox does what the serial listener does when the box is opened.
func (h *harness) pillbox(t *testing.T) {
	c := h.tracker.Active()
	require.NotNil(t, c)
	_, err := h.ledger.RecordStatus(context.Background(), models.RefOf(c.Patient), models.StatusTaken, "Taken via pillbox.", models.SourceHardware)
	require.NoError(t, err)
	c.MarkTaken()
}

func TestHamadScenario(t *testing.T) {
	h := newHarness(t, "", "", "give me five minutes")
	h.voice.onSay = func(text string) {
		if strings.HasPrefix(text, "Okay, waiting") {
			go func() {
				time.Sleep(5 * time.Millisecond)
				h.pillbox(t)
			}()
		}
	}

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, models.SourceHardware, out.Via)
	assert.Equal(t, 2, out.Reminders)
	assert.Equal(t, 1, out.Delays)
	assert.Nil(t, out.Alert)
	assert.Empty(t, h.alerts.Recent())
	assert.Equal(t, models.StatusTaken, h.status(t))
	assert.Nil(t, h.tracker.Active())

	said := h.voice.Said()
	assert.Equal(t, "Hello Student Hamad. It's 10:00, time for your Vitamin B.", said[0])
	assert.NotContains(t, said, msgTimeUp)
}

func TestThreeUnknownRepliesEscalateOnce(t *testing.T) {
	h := newHarness(t, "what?", "the weather is nice", "hmm")

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateEscalated, out.State)
	assert.Equal(t, 3, out.Reminders)
	require.Len(t, h.alerts.Recent(), 1)
	assert.Contains(t, strings.ToLower(h.alerts.Recent()[0].Message), "missed")
	assert.Equal(t, models.StatusMissed, h.status(t))

	said := h.voice.Said()
	assert.Equal(t, msgMaxReminders, said[len(said)-1])
	reprompts := 0
	for _, s := range said {
		if s == msgReprompt {
			reprompts++
		}
	}
	assert.Equal(t, 2, reprompts)
}

func TestAlreadyTakenSkipsCycle(t *testing.T) {
	h := newHarness(t, "yes")
	_, err := h.ledger.RecordStatus(context.Background(), models.RefOf(hamad), models.StatusTaken, "", models.SourceManual)
	require.NoError(t, err)

	out := h.orch.Run(context.Background(), hamad)

	assert.True(t, out.Skipped)
	assert.Equal(t, StateDone, out.State)
	assert.Empty(t, h.voice.Said())
	assert.Zero(t, h.voice.listens)
}

func TestVoiceConfirmation(t *testing.T) {
	h := newHarness(t, "yes I took it")

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, models.SourceVoice, out.Via)
	assert.Equal(t, models.StatusTaken, h.status(t))
	assert.Equal(t, msgThanks, h.voice.Said()[1])
}

func TestPillboxBetweenTurnsEndsCycle(t *testing.T) {
	h := newHarness(t, "hmm", "", "")
	h.voice.onListen = func(n int) {
		if n == 1 {
			h.pillbox(t)
		}
	}

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 1, out.Reminders)
	assert.Equal(t, 1, h.voice.listens)
	assert.Empty(t, h.alerts.Recent())
}

func TestStaleSignalIsNotConsumedByDelayWait(t *testing.T) {
	h := newHarness(t, "later", "yes")
	h.voice.onListen = func(n int) {
		if n == 1 {
			// raised without a ledger write, before the delay window opens
			h.tracker.Active().MarkTaken()
		}
	}

	start := time.Now()
	out := h.orch.Run(context.Background(), hamad)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "waited the full delay")
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, models.SourceVoice, out.Via)
	assert.Contains(t, h.voice.Said(), msgTimeUp)
}

func TestEndlessDelaysAreBounded(t *testing.T) {
	h := newHarness(t, "later", "later", "later", "later", "later", "later")

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateEscalated, out.State)
	assert.Equal(t, 3, out.Delays)
	require.NotNil(t, out.Alert)
	assert.Equal(t, ReasonExceededDelays, out.Alert.Reason)
	assert.Len(t, h.alerts.Recent(), 1)
	assert.Contains(t, h.voice.Said(), msgTooManyDelays)
	assert.Equal(t, models.StatusMissed, h.status(t))
}

func TestExplicitNoAfterDelayCountsAsFailedReminder(t *testing.T) {
	h := newHarness(t, "later", "not yet", "yes")

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 1, out.Reminders)
	assert.Equal(t, 1, out.Delays)
	assert.Contains(t, h.voice.Said(), msgReprompt)
}

func TestLedgerFailureAfterYesEscalates(t *testing.T) {
	h := newHarness(t, "yes")
	h.store.FailUpserts(10)

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateEscalated, out.State)
	assert.Error(t, out.Err)
	require.NotNil(t, out.Alert)
	assert.Equal(t, ReasonNotRecorded, out.Alert.Reason)
	assert.NotContains(t, h.voice.Said(), msgThanks)
}

func TestLedgerRetryRecovers(t *testing.T) {
	h := newHarness(t, "yes")
	h.store.FailUpserts(1)

	out := h.orch.Run(context.Background(), hamad)

	assert.Equal(t, StateDone, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, models.StatusTaken, h.status(t))
}

type countingLedger struct {
	Ledger
	writes atomic.Int32
}

func (l *countingLedger) RecordStatus(ctx context.Context, ref models.PatientRef, status models.Status, notes string, source models.Source) (models.StatusEvent, error) {
	l.writes.Add(1)
	return l.Ledger.RecordStatus(ctx, ref, status, notes, source)
}

func (h *harness) orchestratorWith(l Ledger, retries int) *Orchestrator {
	return NewOrchestrator(Deps{
		Ledger:     l,
		Alerts:     h.alerts,
		Voice:      h.voice,
		Classifier: keywordClassifier{},
		Tracker:    h.tracker,
		Logger:     logging.Discard(),
	}, Options{
		MaxReminders:       3,
		MaxDelays:          3,
		DelayWait:          40 * time.Millisecond,
		NoResponseGrace:    time.Millisecond,
		LedgerRetries:      retries,
		LedgerRetryBackoff: time.Millisecond,
	})
}

func TestLedgerRetriesAreBounded(t *testing.T) {
	h := newHarness(t, "yes")
	h.store.FailUpserts(10)
	counted := &countingLedger{Ledger: h.ledger}

	out := h.orchestratorWith(counted, 3).Run(context.Background(), hamad)

	assert.Equal(t, StateEscalated, out.State)
	assert.EqualValues(t, 3, counted.writes.Load())
}

func TestUnknownPatientIsNotRetried(t *testing.T) {
	h := newHarness(t, "yes")
	counted := &countingLedger{Ledger: h.ledger}
	ghost := models.Patient{ID: 99, Name: "Nobody Registered", TimeDue: "10:00"}

	out := h.orchestratorWith(counted, 3).Run(context.Background(), ghost)

	assert.Equal(t, StateEscalated, out.State)
	assert.ErrorIs(t, out.Err, ledger.ErrPatientNotFound)
	assert.EqualValues(t, 1, counted.writes.Load())
}

func TestSignalFromPreviousPatientDoesNotReachNext(t *testing.T) {
	h := newHarness(t, "yes")
	ctx := context.Background()
	joan, err := h.store.CreatePatient(ctx, models.Patient{Name: "Athlete Joan", Medicine: "Iron Supplement", TimeDue: "12:00"})
	require.NoError(t, err)

	var first *Cycle
	h.voice.onListen = func(n int) {
		if n == 1 {
			first = h.tracker.Active()
			first.MarkTaken()
		}
	}
	out := h.orch.Run(ctx, hamad)
	require.Equal(t, StateDone, out.State)
	require.NotNil(t, first)
	require.True(t, first.Signal().IsSet())
	require.Nil(t, h.tracker.Active())

	h.voice.mu.Lock()
	h.voice.onListen = nil
	h.voice.replies = []string{"later"}
	h.voice.mu.Unlock()

	out = h.orch.Run(ctx, joan)

	assert.Equal(t, StateEscalated, out.State)
	assert.Empty(t, out.Via)
	assert.Equal(t, 3, out.Delays)
	require.NotNil(t, out.Alert)
	assert.Equal(t, ReasonExceededDelays, out.Alert.Reason)
	st, err := h.ledger.TodayStatus(ctx, joan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMissed, st)
	assert.Equal(t, models.StatusTaken, h.status(t))
}

func TestCancelledContextAborts(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.voice.onSay = func(string) { cancel() }

	out := h.orch.Run(ctx, hamad)

	assert.Equal(t, StateAborted, out.State)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, h.alerts.Recent())
	assert.Nil(t, h.tracker.Active())
}

func TestTakenSignal(t *testing.T) {
	s := NewTakenSignal()
	assert.False(t, s.Wait(context.Background(), time.Millisecond))

	s.Set()
	s.Set()
	assert.True(t, s.IsSet())
	assert.True(t, s.Wait(context.Background(), time.Millisecond))

	s.Clear()
	assert.False(t, s.IsSet())
	assert.False(t, s.Wait(context.Background(), time.Millisecond))

	go func() {
		time.Sleep(2 * time.Millisecond)
		s.Set()
	}()
	assert.True(t, s.Wait(context.Background(), time.Second))
}

func TestTrackerEndIgnoresNewerCycle(t *testing.T) {
	tr := NewTracker()
	old := tr.Begin(hamad, time.Now())
	newer := tr.Begin(hamad, time.Now())

	tr.End(old)
	assert.Same(t, newer, tr.Active())

	tr.End(newer)
	assert.Nil(t, tr.Active())
}

func TestSpokenDuration(t *testing.T) {
	assert.Equal(t, "5 minutes", spokenDuration(5*time.Minute))
	assert.Equal(t, "1 minute", spokenDuration(time.Minute))
	assert.Equal(t, "90 seconds", spokenDuration(90*time.Second))
	assert.Equal(t, "a moment", spokenDuration(40*time.Millisecond))
}
