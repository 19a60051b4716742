package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medminder/pkg/models"
)

const closeoutNote = "No confirmation recorded"

type PatientLister interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
}

// DayLedger is the slice of the status ledger the close-out needs.
type DayLedger interface {
	StatusOn(ctx context.Context, patientID int64, day string) (models.Status, error)
	RecordOn(ctx context.Context, p models.Patient, day string, status models.Status, notes string, source models.Source) error
}

// CloseoutWorker marks past days as MISSED for every patient who never got
// a terminal status on them. Each run scans the last lookback days, so days
// skipped while the device was off are closed once it is back.
type CloseoutWorker struct {
	patients PatientLister
	ledger   DayLedger
	interval time.Duration
	lookback int
	now      func() time.Time
	log      *slog.Logger
}

func NewCloseoutWorker(patients PatientLister, l DayLedger, interval time.Duration, lookbackDays int, log *slog.Logger) *CloseoutWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &CloseoutWorker{
		patients: patients,
		ledger:   l,
		interval: interval,
		lookback: lookbackDays,
		now:      time.Now,
		log:      log,
	}
}

func (w *CloseoutWorker) Name() string            { return "closeout" }
func (w *CloseoutWorker) Interval() time.Duration { return w.interval }

func (w *CloseoutWorker) Run(ctx context.Context) error {
	patients, err := w.patients.ListPatients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list patients: %w", err)
	}

	today := w.now()
	for back := w.lookback; back >= 1; back-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.closeDay(ctx, today.AddDate(0, 0, -back), patients)
	}
	return nil
}

func (w *CloseoutWorker) closeDay(ctx context.Context, date time.Time, patients []models.Patient) {
	day := models.DayKey(date)
	closed := 0
	for _, p := range patients {
		if !dueWhileRegistered(p, date) {
			continue
		}
		status, err := w.ledger.StatusOn(ctx, p.ID, day)
		if err != nil {
			w.log.Error("❌ close-out lookup failed", "patient", p.Name, "day", day, "err", err)
			continue
		}
		if status.Terminal() {
			continue
		}
		if err := w.ledger.RecordOn(ctx, p, day, models.StatusMissed, closeoutNote, models.SourceSystem); err != nil {
			w.log.Error("❌ close-out write failed", "patient", p.Name, "day", day, "err", err)
			continue
		}
		closed++
	}

	if closed > 0 {
		w.log.Info("📅 day closed out", "day", day, "missed", closed)
	}
}

// dueWhileRegistered reports whether p already existed when the dose on
// date was due.
func dueWhileRegistered(p models.Patient, date time.Time) bool {
	if p.CreatedAt.IsZero() {
		return true
	}
	due, err := p.DueAt(date)
	if err != nil {
		return true
	}
	return !p.CreatedAt.After(due)
}
