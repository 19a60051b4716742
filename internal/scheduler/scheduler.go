// Package scheduler decides when each patient's reminder cycle starts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medminder/internal/reminder"
	"medminder/pkg/models"
)

const (
	ModeDemo      = "demo"
	ModeScheduled = "scheduled"

	demoResetNote = "Demo reset"
)

type Runner interface {
	Run(ctx context.Context, p models.Patient) reminder.Outcome
}

type Roster interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
}

type StatusLedger interface {
	RecordStatus(ctx context.Context, ref models.PatientRef, status models.Status, notes string, source models.Source) (models.StatusEvent, error)
	TodayStatus(ctx context.Context, patientID int64) (models.Status, error)
}

type Config struct {
	Mode string
	// Interval between due-time checks in scheduled mode.
	Interval time.Duration
	// PatientGap and RoundInterval pace demo mode.
	PatientGap    time.Duration
	RoundInterval time.Duration
}

// Scheduler runs one reminder cycle at a time; cycles never overlap.
type Scheduler struct {
	cfg    Config
	runner Runner
	roster Roster
	ledger StatusLedger
	now    func() time.Time
	log    *slog.Logger

	// patient ID -> day key of the last cycle started
	ranToday map[int64]string

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewScheduler(cfg Config, runner Runner, roster Roster, l StatusLedger, log *slog.Logger) (*Scheduler, error) {
	switch cfg.Mode {
	case ModeDemo, ModeScheduled:
	default:
		return nil, fmt.Errorf("unknown scheduler mode %q", cfg.Mode)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		roster:   roster,
		ledger:   l,
		now:      time.Now,
		log:      log,
		ranToday: make(map[int64]string),
		stopChan: make(chan struct{}),
	}, nil
}

// Start blocks until ctx is done or Stop is called. Stopping also cancels a
// cycle in progress.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.log.Info("⏰ scheduler started", "mode", s.cfg.Mode)
	defer s.log.Info("🛑 scheduler stopped")

	if s.cfg.Mode == ModeDemo {
		s.runDemo(ctx)
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.CheckDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckDue(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// CheckDue starts, one after another, the cycles of every patient whose due
// time has passed today, who has no terminal status yet and who has not
// already had a cycle today.
func (s *Scheduler) CheckDue(ctx context.Context) {
	patients, err := s.roster.ListPatients(ctx)
	if err != nil {
		s.log.Error("❌ failed to list patients", "err", err)
		return
	}

	for _, p := range patients {
		if ctx.Err() != nil {
			return
		}

		now := s.now()
		today := models.DayKey(now)
		if s.ranToday[p.ID] == today {
			continue
		}

		due, err := p.DueAt(now)
		if err != nil {
			s.log.Warn("⚠️ skipping patient with bad due time", "patient", p.Name, "err", err)
			continue
		}
		if now.Before(due) {
			continue
		}

		st, err := s.ledger.TodayStatus(ctx, p.ID)
		if err != nil {
			s.log.Error("❌ failed to read status", "patient", p.Name, "err", err)
			continue
		}
		if st.Terminal() {
			s.ranToday[p.ID] = today
			continue
		}

		s.ranToday[p.ID] = today
		s.runner.Run(ctx, p)
	}
}

func (s *Scheduler) runDemo(ctx context.Context) {
	for round := 1; ; round++ {
		s.log.Info("🔁 demo round starting", "round", round)
		if !s.DemoRound(ctx) {
			return
		}
		if !sleep(ctx, s.cfg.RoundInterval) {
			return
		}
	}
}

// DemoRound reminds every patient in roster order, resetting each to
// PENDING first. It returns false once ctx is done.
func (s *Scheduler) DemoRound(ctx context.Context) bool {
	patients, err := s.roster.ListPatients(ctx)
	if err != nil {
		s.log.Error("❌ failed to list patients", "err", err)
		return ctx.Err() == nil
	}

	for i, p := range patients {
		if ctx.Err() != nil {
			return false
		}
		if _, err := s.ledger.RecordStatus(ctx, models.RefOf(p), models.StatusPending, demoResetNote, models.SourceSystem); err != nil {
			s.log.Warn("⚠️ demo reset failed", "patient", p.Name, "err", err)
		}

		s.runner.Run(ctx, p)

		if i < len(patients)-1 && !sleep(ctx, s.cfg.PatientGap) {
			return false
		}
	}
	return ctx.Err() == nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
