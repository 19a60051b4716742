package pillbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.bug.st/serial"

	"medminder/internal/reminder"
	"medminder/pkg/models"
)

const (
	msgThanks      = "Thank you for taking your medication."
	msgNotRecorded = "Pillbox opened, but could not record the current patient."
	msgOpened      = "Pillbox opened."
	noteTaken      = "Taken via pillbox."
)

type Recorder interface {
	RecordStatus(ctx context.Context, ref models.PatientRef, status models.Status, notes string, source models.Source) (models.StatusEvent, error)
}

type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Opener connects to the pillbox.
type Opener func() (io.ReadCloser, error)

// OpenSerial returns an Opener for a serial device.
func OpenSerial(device string, baud int) Opener {
	return func() (io.ReadCloser, error) {
		port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", device, err)
		}
		return port, nil
	}
}

// Result describes what HandleLine did with a line.
type Result string

const (
	ResultIgnored       Result = "ignored"
	ResultRecorded      Result = "recorded"
	ResultRecordFailed  Result = "record_failed"
	ResultNoActiveCycle Result = "no_active_cycle"
	ResultDayMismatch   Result = "day_mismatch"
)

type Listener struct {
	open    Opener
	tracker *reminder.Tracker
	ledger  Recorder
	voice   Speaker
	now     func() time.Time
	log     *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

type Config struct {
	Open       Opener
	Tracker    *reminder.Tracker
	Ledger     Recorder
	Voice      Speaker
	Clock      func() time.Time
	Logger     *slog.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewListener(cfg Config) *Listener {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Listener{
		open:       cfg.Open,
		tracker:    cfg.Tracker,
		ledger:     cfg.Ledger,
		voice:      cfg.Voice,
		now:        cfg.Clock,
		log:        cfg.Logger,
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
	}
}

// Run reads pillbox events until ctx is cancelled. If the port cannot be
// opened at all the listener disables itself and returns the error; read
// failures after that are retried with back-off.
func (l *Listener) Run(ctx context.Context) error {
	port, err := l.open()
	if err != nil {
		l.log.Error("❌ pillbox unavailable, hardware events disabled", "err", err)
		return err
	}
	l.log.Info("✅ pillbox connected")

	for {
		err := l.read(ctx, port)
		if ctx.Err() != nil {
			break
		}
		l.log.Warn("⚠️ pillbox read failed, reconnecting", "err", err)

		if port, err = l.reconnect(ctx); err != nil {
			break
		}
		l.log.Info("✅ pillbox reconnected")
	}
	l.log.Info("🛑 pillbox listener stopped")
	return nil
}

// reconnect waits one back-off step, then reopens the port with capped
// exponential back-off until it succeeds or ctx ends.
func (l *Listener) reconnect(ctx context.Context) (io.ReadCloser, error) {
	b := retry.WithCappedDuration(l.maxBackoff, retry.NewExponential(l.minBackoff))
	first, _ := b.Next()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(first):
	}

	var port io.ReadCloser
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		p, err := l.open()
		if err != nil {
			l.log.Warn("⚠️ pillbox reconnect failed", "err", err)
			return retry.RetryableError(err)
		}
		port = p
		return nil
	})
	return port, err
}

// read consumes lines until the port fails or ctx ends. The port is closed
// on return, which is also what unblocks a pending read on cancellation.
func (l *Listener) read(ctx context.Context, port io.ReadCloser) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-done:
		}
	}()
	defer port.Close()

	sc := bufio.NewScanner(port)
	for sc.Scan() {
		l.HandleLine(ctx, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

// HandleLine acts on one line from the pillbox.
func (l *Listener) HandleLine(ctx context.Context, line string) Result {
	ev, ok := ParseLine(line)
	if !ok {
		l.log.Debug("pillbox line ignored", "line", line)
		return ResultIgnored
	}

	now := l.now()
	if ev.Day != ShortDay(now) {
		l.log.Info("💊 pillbox opened for another day", "compartment", ev.FullDay, "today", FullDay(now))
		l.say(ctx, fmt.Sprintf("The pillbox for %s has been opened. Today is %s.", ev.FullDay, FullDay(now)))
		return ResultDayMismatch
	}

	c := l.tracker.Active()
	if c == nil {
		l.log.Info("💊 pillbox opened, no active reminder")
		l.say(ctx, msgOpened)
		return ResultNoActiveCycle
	}

	if _, err := l.ledger.RecordStatus(ctx, models.RefOf(c.Patient), models.StatusTaken, noteTaken, models.SourceHardware); err != nil {
		l.log.Error("❌ pillbox event not recorded", "patient", c.Patient.Name, "err", err)
		l.say(ctx, msgNotRecorded)
		return ResultRecordFailed
	}
	c.MarkTaken()
	l.log.Info("💊 pillbox event logged as TAKEN", "patient", c.Patient.Name, "cycle", c.ID)
	l.say(ctx, msgThanks)
	return ResultRecorded
}

func (l *Listener) say(ctx context.Context, text string) {
	if err := l.voice.Say(ctx, text); err != nil && !errors.Is(err, context.Canceled) {
		l.log.Warn("⚠️ could not speak", "text", text, "err", err)
	}
}
