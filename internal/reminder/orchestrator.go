// Package reminder runs the spoken reminder dialogue for one patient at a
// time and decides when the caregiver has to be alerted.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"medminder/internal/intent"
	"medminder/internal/ledger"
	"medminder/internal/voice"
	"medminder/pkg/models"
)

const (
	msgThanks        = "Thank you. Recorded."
	msgTimeUp        = "Time is up. Did you take it?"
	msgTooManyDelays = "You have delayed too many times. I am notifying your caregiver."
	msgMaxReminders  = "Max reminders reached. Sending alert."
	msgReprompt      = "It's time to take your medicine. Please take your medicine."

	ReasonExceededDelays = "Exceeded max delays"
	ReasonMissed         = "Missed medication after reminders"
	ReasonNotRecorded    = "Could not record confirmation"
)

// Ledger is the part of the status ledger the dialogue needs.
type Ledger interface {
	RecordStatus(ctx context.Context, ref models.PatientRef, status models.Status, notes string, source models.Source) (models.StatusEvent, error)
	TodayStatus(ctx context.Context, patientID int64) (models.Status, error)
}

type Alerter interface {
	SendAlert(ctx context.Context, patientName, reason string) models.Alert
}

type Options struct {
	MaxReminders       int
	MaxDelays          int
	DelayWait          time.Duration
	NoResponseGrace    time.Duration
	LedgerRetries      int
	LedgerRetryBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxReminders:       3,
		MaxDelays:          3,
		DelayWait:          5 * time.Minute,
		NoResponseGrace:    5 * time.Second,
		LedgerRetries:      3,
		LedgerRetryBackoff: 500 * time.Millisecond,
	}
}

// Outcome summarizes a finished cycle.
type Outcome struct {
	CycleID   string
	State     State
	Skipped   bool
	Reminders int
	Delays    int
	// Via is the source that confirmed the dose, when State is DONE.
	Via   models.Source
	Alert *models.Alert
	Err   error
}

type Orchestrator struct {
	ledger     Ledger
	alerts     Alerter
	voice      voice.Voice
	classifier intent.Classifier
	tracker    *Tracker
	opts       Options
	now        func() time.Time
	log        *slog.Logger
}

type Deps struct {
	Ledger     Ledger
	Alerts     Alerter
	Voice      voice.Voice
	Classifier intent.Classifier
	Tracker    *Tracker
	Clock      func() time.Time
	Logger     *slog.Logger
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if opts.LedgerRetries < 1 {
		opts.LedgerRetries = 1
	}
	if opts.LedgerRetryBackoff <= 0 {
		opts.LedgerRetryBackoff = DefaultOptions().LedgerRetryBackoff
	}
	return &Orchestrator{
		ledger:     d.Ledger,
		alerts:     d.Alerts,
		voice:      d.Voice,
		classifier: d.Classifier,
		tracker:    d.Tracker,
		opts:       opts,
		now:        d.Clock,
		log:        d.Logger,
	}
}

// Run holds the reminder conversation for p until it is confirmed, escalated
// or ctx is cancelled. It does not return early on ledger or voice errors.
func (o *Orchestrator) Run(ctx context.Context, p models.Patient) Outcome {
	log := o.log.With("patient", p.Name)

	if st, err := o.ledger.TodayStatus(ctx, p.ID); err != nil {
		log.Warn("⚠️ could not read today's status, reminding anyway", "err", err)
	} else if st == models.StatusTaken {
		log.Info("✅ medication already taken today, skipping")
		return Outcome{State: StateDone, Skipped: true}
	}

	c := o.tracker.Begin(p, o.now())
	defer o.tracker.End(c)
	log = log.With("cycle", c.ID)
	log.Info("⏰ reminder cycle started", "medicine", p.Medicine, "time_due", p.TimeDue)

	out := o.converse(ctx, c, log)
	out.CycleID = c.ID
	out.Reminders = c.Reminders()
	out.Delays = c.Delays()
	c.setState(out.State)

	log.Info("🏁 reminder cycle finished", "state", out.State, "via", out.Via,
		"reminders", out.Reminders, "delays", out.Delays, "err", out.Err)
	return out
}

func (o *Orchestrator) converse(ctx context.Context, c *Cycle, log *slog.Logger) Outcome {
	p := c.Patient
	o.say(ctx, log, fmt.Sprintf("Hello %s. It's %s, time for your %s.", p.Name, p.TimeDue, p.Medicine))

	for c.Reminders() < o.opts.MaxReminders {
		if ctx.Err() != nil {
			return Outcome{State: StateAborted, Err: ctx.Err()}
		}
		if via, ok := o.alreadyTaken(ctx, c); ok {
			return Outcome{State: StateDone, Via: via}
		}

		c.setState(StateAwaitingResponse)
		text := o.listen(ctx, log)
		if text == "" {
			log.Info("🔇 no response", "reminder", c.Reminders()+1)
			o.sleep(ctx, o.opts.NoResponseGrace)
			c.addReminder()
			continue
		}

		res := intent.Resolve(ctx, o.classifier, text, o.hints(c), log)
		log.Info("🧠 intent", "text", text, "intent", res.String())

		switch {
		case res.IsYes():
			return o.confirm(ctx, c, log)
		case res.Kind == intent.Delay:
			if out, finished := o.delayLoop(ctx, c, log); finished {
				return out
			}
		}

		c.setState(StateRetry)
		if c.addReminder() < o.opts.MaxReminders {
			o.say(ctx, log, msgReprompt)
		}
	}

	if ctx.Err() != nil {
		return Outcome{State: StateAborted, Err: ctx.Err()}
	}
	return o.escalate(ctx, c, log, ReasonMissed, msgMaxReminders, false)
}

// delayLoop handles a DELAY reply. finished is false when the patient gave an
// explicit non-delay answer that should count as a failed reminder.
func (o *Orchestrator) delayLoop(ctx context.Context, c *Cycle, log *slog.Logger) (Outcome, bool) {
	for {
		if c.Delays() >= o.opts.MaxDelays {
			return o.escalate(ctx, c, log, ReasonExceededDelays, msgTooManyDelays, true), true
		}
		n := c.addDelay()
		c.setState(StateDelayedWait)

		// A signal raised before this wait belongs to an earlier window.
		c.taken.Clear()
		if st, err := o.ledger.TodayStatus(ctx, c.Patient.ID); err == nil && st == models.StatusTaken {
			return Outcome{State: StateDone}, true
		}

		o.say(ctx, log, fmt.Sprintf("Okay, waiting %s.", spokenDuration(o.opts.DelayWait)))
		log.Info("⏳ waiting for pillbox", "delay", n, "wait", o.opts.DelayWait)

		if c.taken.Wait(ctx, o.opts.DelayWait) {
			log.Info("💊 pillbox opened during delay")
			return Outcome{State: StateDone, Via: models.SourceHardware}, true
		}
		if ctx.Err() != nil {
			return Outcome{State: StateAborted, Err: ctx.Err()}, true
		}

		c.setState(StateAwaitingResponse)
		o.say(ctx, log, msgTimeUp)
		text := o.listen(ctx, log)

		if c.taken.IsSet() {
			log.Info("💊 pillbox opened while answering")
			return Outcome{State: StateDone, Via: models.SourceHardware}, true
		}
		if text == "" {
			continue
		}

		res := intent.Resolve(ctx, o.classifier, text, o.hints(c), log)
		log.Info("🧠 intent", "text", text, "intent", res.String())
		switch {
		case res.IsYes():
			return o.confirm(ctx, c, log), true
		case res.Kind == intent.Delay, res.Kind == intent.Unknown:
			continue
		}
		return Outcome{}, false
	}
}

func (o *Orchestrator) confirm(ctx context.Context, c *Cycle, log *slog.Logger) Outcome {
	if err := o.record(ctx, c, models.StatusTaken, "Confirmed by voice.", models.SourceVoice, log); err != nil {
		a := o.alerts.SendAlert(ctx, c.Patient.Name, ReasonNotRecorded)
		return Outcome{State: StateEscalated, Alert: &a, Err: err}
	}
	o.say(ctx, log, msgThanks)
	return Outcome{State: StateDone, Via: models.SourceVoice}
}

// escalate alerts the caregiver and records the dose as missed. speakFirst
// controls whether the patient hears the announcement before the alert goes
// out.
func (o *Orchestrator) escalate(ctx context.Context, c *Cycle, log *slog.Logger, reason, speech string, speakFirst bool) Outcome {
	if via, ok := o.alreadyTaken(ctx, c); ok {
		return Outcome{State: StateDone, Via: via}
	}

	if speakFirst {
		o.say(ctx, log, speech)
	}
	a := o.alerts.SendAlert(ctx, c.Patient.Name, reason)
	if !speakFirst {
		o.say(ctx, log, speech)
	}

	out := Outcome{State: StateEscalated, Alert: &a}
	if err := o.record(ctx, c, models.StatusMissed, reason, models.SourceVoice, log); err != nil {
		out.Err = err
	}
	return out
}

func (o *Orchestrator) alreadyTaken(ctx context.Context, c *Cycle) (models.Source, bool) {
	if c.taken.IsSet() {
		return models.SourceHardware, true
	}
	st, err := o.ledger.TodayStatus(ctx, c.Patient.ID)
	if err != nil {
		o.log.Warn("⚠️ status check failed", "patient", c.Patient.Name, "err", err)
		return "", false
	}
	return "", st == models.StatusTaken
}

// record writes a status, retrying store errors with exponential backoff.
// Unknown patients and invalid statuses fail on the first attempt.
func (o *Orchestrator) record(ctx context.Context, c *Cycle, status models.Status, notes string, source models.Source, log *slog.Logger) error {
	attempt := 0
	b := retry.WithMaxRetries(uint64(o.opts.LedgerRetries-1), retry.NewExponential(o.opts.LedgerRetryBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		_, err := o.ledger.RecordStatus(ctx, models.RefOf(c.Patient), status, notes, source)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ledger.ErrPatientNotFound), errors.Is(err, ledger.ErrInvalidStatus):
			return err
		}
		log.Warn("⚠️ ledger write failed", "status", status, "attempt", attempt, "err", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	log.Error("❌ could not record status", "status", status, "attempts", attempt, "err", err)
	return fmt.Errorf("record %s for %s: %w", status, c.Patient.Name, err)
}

func (o *Orchestrator) say(ctx context.Context, log *slog.Logger, text string) {
	if err := o.voice.Say(ctx, text); err != nil && ctx.Err() == nil {
		log.Warn("⚠️ could not speak", "text", text, "err", err)
	}
}

// listen returns "" for silence and for capture or transcription failures.
func (o *Orchestrator) listen(ctx context.Context, log *slog.Logger) string {
	text, err := o.voice.Listen(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("⚠️ listen failed", "err", err)
		}
		return ""
	}
	return text
}

func (o *Orchestrator) hints(c *Cycle) intent.Hints {
	return intent.Hints{Patients: []models.Patient{c.Patient}}
}

// sleep waits d or until ctx ends, reporting whether the full wait elapsed.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func spokenDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		if n := int(d / time.Minute); n != 1 {
			return fmt.Sprintf("%d minutes", n)
		}
		return "1 minute"
	case d >= time.Second:
		if n := int(d.Round(time.Second) / time.Second); n != 1 {
			return fmt.Sprintf("%d seconds", n)
		}
		return "1 second"
	}
	return "a moment"
}
