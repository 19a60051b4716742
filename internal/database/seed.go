package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medminder/pkg/models"
)

// SeedStore is satisfied by DB and by ledger.MemoryStore.
type SeedStore interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
	CreatePatient(ctx context.Context, p models.Patient) (models.Patient, error)
	UpsertEntry(ctx context.Context, e models.LogEntry) error
}

// DemoPatients is the roster installed on an empty store, in reminder order.
var DemoPatients = []models.Patient{
	{Name: "Student Hamad", Medicine: "Vitamin B", TimeDue: "10:00"},
	{Name: "Athlete Joan", Medicine: "Iron Supplement", TimeDue: "12:00"},
	{Name: "Grandpa Albert", Medicine: "Lisinopril", TimeDue: "08:00"},
}

// Seed installs the demo roster plus historyDays of past entries when the
// store has no patients. Today is left without entries.
func Seed(ctx context.Context, store SeedStore, now time.Time, historyDays int) error {
	existing, err := store.ListPatients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list patients: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	for _, p := range DemoPatients {
		p.CreatedAt = now.AddDate(0, 0, -historyDays-1)
		created, err := store.CreatePatient(ctx, p)
		if err != nil {
			return err
		}
		for d := historyDays; d >= 1; d-- {
			day := now.AddDate(0, 0, -d)
			if err := store.UpsertEntry(ctx, historyEntry(created.ID, day)); err != nil {
				return err
			}
		}
	}

	slog.Info("🌱 demo data seeded", "patients", len(DemoPatients), "history_days", historyDays)
	return nil
}

// historyEntry produces a stable mix of taken and missed days.
func historyEntry(patientID int64, day time.Time) models.LogEntry {
	e := models.LogEntry{
		PatientID: patientID,
		Day:       models.DayKey(day),
		Status:    models.StatusTaken,
		Notes:     "Seeded data",
		Source:    models.SourceSystem,
	}
	k := patientID + int64(day.Day())
	if k%5 == 0 || k%13 == 0 {
		e.Status = models.StatusMissed
		return e
	}
	taken := "09:00:00"
	e.TimeTaken = &taken
	return e
}
