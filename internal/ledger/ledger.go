// Package ledger records one medication status per patient per calendar day
// and tells subscribers about every change.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medminder/pkg/models"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrEntryNotFound   = errors.New("status entry not found")
	ErrInvalidStatus   = errors.New("invalid status")
)

// Store is the persistence contract the ledger needs. UpsertEntry must be
// keyed by (PatientID, Day) and never create duplicates.
type Store interface {
	FindPatient(ctx context.Context, ref models.PatientRef) (*models.Patient, error)
	GetEntry(ctx context.Context, patientID int64, day string) (*models.LogEntry, error)
	UpsertEntry(ctx context.Context, entry models.LogEntry) error
}

// Subscriber is notified after a write has been stored.
type Subscriber interface {
	OnStatus(event models.StatusEvent)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(models.StatusEvent)

func (f SubscriberFunc) OnStatus(event models.StatusEvent) { f(event) }

type Ledger struct {
	store       Store
	subscribers []Subscriber
	now         func() time.Time
	log         *slog.Logger
}

type Option func(*Ledger)

// WithClock replaces time.Now; the clock decides the day key.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers s for status events. Call before the ledger is shared.
func (l *Ledger) Subscribe(s Subscriber) {
	l.subscribers = append(l.subscribers, s)
}

// Today returns the ledger's current day key.
func (l *Ledger) Today() string {
	return models.DayKey(l.now())
}

// RecordStatus upserts today's entry for the referenced patient.
func (l *Ledger) RecordStatus(ctx context.Context, ref models.PatientRef, status models.Status, notes string, source models.Source) (models.StatusEvent, error) {
	if !status.Valid() {
		return models.StatusEvent{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	patient, err := l.store.FindPatient(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			l.log.Warn("⚠️ ledger: patient not found", "patient", ref.String())
			return models.StatusEvent{}, err
		}
		return models.StatusEvent{}, fmt.Errorf("find patient %s: %w", ref, err)
	}

	now := l.now()
	entry := models.LogEntry{
		PatientID: patient.ID,
		Day:       models.DayKey(now),
		Status:    status,
		Notes:     notes,
		Source:    source,
	}
	if status != models.StatusPending {
		taken := now.Format(models.ClockLayout)
		entry.TimeTaken = &taken
	}

	if err := l.store.UpsertEntry(ctx, entry); err != nil {
		l.log.Error("❌ ledger: upsert failed", "patient", patient.Name, "status", status, "err", err)
		return models.StatusEvent{}, fmt.Errorf("upsert %s/%s: %w", patient.Name, entry.Day, err)
	}

	event := models.StatusEvent{
		PatientID:   patient.ID,
		PatientName: patient.Name,
		Status:      status,
		TimeTaken:   entry.TimeTaken,
		Source:      source,
	}
	l.log.Info("📝 status recorded", "patient", patient.Name, "day", entry.Day, "status", status, "source", source)

	for _, s := range l.subscribers {
		s.OnStatus(event)
	}
	return event, nil
}

// TodayStatus returns today's status; absence of an entry is PENDING.
func (l *Ledger) TodayStatus(ctx context.Context, patientID int64) (models.Status, error) {
	return l.StatusOn(ctx, patientID, l.Today())
}

func (l *Ledger) StatusOn(ctx context.Context, patientID int64, day string) (models.Status, error) {
	entry, err := l.store.GetEntry(ctx, patientID, day)
	if errors.Is(err, ErrEntryNotFound) {
		return models.StatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("get entry %d/%s: %w", patientID, day, err)
	}
	return entry.Status, nil
}

// RecordOn writes an entry for an explicit day, bypassing name resolution.
// Used for back-dated corrections such as closing out a finished day.
func (l *Ledger) RecordOn(ctx context.Context, patient models.Patient, day string, status models.Status, notes string, source models.Source) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	entry := models.LogEntry{
		PatientID: patient.ID,
		Day:       day,
		Status:    status,
		Notes:     notes,
		Source:    source,
	}
	if err := l.store.UpsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", patient.Name, day, err)
	}
	l.log.Info("📝 status recorded", "patient", patient.Name, "day", day, "status", status, "source", source)
	if day != l.Today() {
		return nil
	}
	event := models.StatusEvent{PatientID: patient.ID, PatientName: patient.Name, Status: status, Source: source}
	for _, s := range l.subscribers {
		s.OnStatus(event)
	}
	return nil
}
