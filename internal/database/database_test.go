package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medminder/internal/ledger"
	"medminder/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB("sqlite3", filepath.Join(t.TempDir(), "medication_manager.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewDB("mysql", "x")
	assert.Error(t, err)
}

func TestPatientQueries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	joan, err := db.CreatePatient(ctx, models.Patient{Name: "Athlete Joan", Medicine: "Iron Supplement", TimeDue: "12:00"})
	require.NoError(t, err)
	assert.NotZero(t, joan.ID)

	found, err := db.FindPatient(ctx, models.PatientRef{Name: "JOAN"})
	require.NoError(t, err)
	assert.Equal(t, joan, *found)

	byID, err := db.FindPatient(ctx, models.PatientRef{ID: joan.ID})
	require.NoError(t, err)
	assert.Equal(t, "Iron Supplement", byID.Medicine)

	_, err = db.FindPatient(ctx, models.PatientRef{Name: "Albert"})
	assert.ErrorIs(t, err, ledger.ErrPatientNotFound)
	_, err = db.GetPatient(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrPatientNotFound)

	all, err := db.ListPatients(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFindPatientTreatsWildcardsLiterally(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, err := db.CreatePatient(ctx, models.Patient{Name: "MaryXAnn", Medicine: "Vitamin D", TimeDue: "09:00"})
	require.NoError(t, err)
	underscored, err := db.CreatePatient(ctx, models.Patient{Name: "Mary_Ann", Medicine: "Vitamin D", TimeDue: "09:00"})
	require.NoError(t, err)

	found, err := db.FindPatient(ctx, models.PatientRef{Name: "y_a"})
	require.NoError(t, err)
	assert.Equal(t, underscored.ID, found.ID)

	found, err = db.FindPatient(ctx, models.PatientRef{Name: "xann"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = db.FindPatient(ctx, models.PatientRef{Name: "%"})
	assert.ErrorIs(t, err, ledger.ErrPatientNotFound)
}

func TestCreatedAtRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 9, 11, 30, 0, 0, time.UTC)

	p, err := db.CreatePatient(ctx, models.Patient{Name: "Athlete Joan", Medicine: "Iron Supplement", TimeDue: "12:00", CreatedAt: at})
	require.NoError(t, err)

	got, err := db.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)
}

func TestUpsertKeepsOneEntryPerDay(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	p, err := db.CreatePatient(ctx, models.Patient{Name: "Student Hamad", Medicine: "Vitamin B", TimeDue: "10:00"})
	require.NoError(t, err)

	_, err = db.GetEntry(ctx, p.ID, "2026-03-09")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	taken := "10:12:00"
	require.NoError(t, db.UpsertEntry(ctx, models.LogEntry{PatientID: p.ID, Day: "2026-03-09", Status: models.StatusMissed, Source: models.SourceVoice}))
	require.NoError(t, db.UpsertEntry(ctx, models.LogEntry{PatientID: p.ID, Day: "2026-03-09", Status: models.StatusTaken, TimeTaken: &taken, Notes: "Taken via pillbox.", Source: models.SourceHardware}))
	require.NoError(t, db.UpsertEntry(ctx, models.LogEntry{PatientID: p.ID, Day: "2026-03-10", Status: models.StatusPending, Source: models.SourceSystem}))

	e, err := db.GetEntry(ctx, p.ID, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTaken, e.Status)
	assert.Equal(t, models.SourceHardware, e.Source)
	require.NotNil(t, e.TimeTaken)
	assert.Equal(t, taken, *e.TimeTaken)

	entries, err := db.ListEntries(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-03-09", entries[0].Day)
	assert.Nil(t, entries[1].TimeTaken)

	n, err := db.DeleteDay(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	all, err := db.ListAllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLedgerOverDB(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.CreatePatient(ctx, models.Patient{Name: "Grandpa Albert", Medicine: "Lisinopril", TimeDue: "08:00"})
	require.NoError(t, err)

	l := ledger.New(db)
	_, err = l.RecordStatus(ctx, models.PatientRef{Name: "albert"}, models.StatusTaken, "", models.SourceVoice)
	require.NoError(t, err)
	_, err = l.RecordStatus(ctx, models.PatientRef{Name: "albert"}, models.StatusTaken, "", models.SourceVoice)
	require.NoError(t, err)

	all, err := db.ListAllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSeedOnlyOnce(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 9, 7, 0, 0, 0, time.Local)

	require.NoError(t, Seed(ctx, store, now, 7))
	require.NoError(t, Seed(ctx, store, now, 7))

	patients, err := store.ListPatients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 3)
	assert.Equal(t, "Student Hamad", patients[0].Name)
	assert.Equal(t, "Grandpa Albert", patients[2].Name)

	entries, err := store.ListAllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 21)
	for _, e := range entries {
		assert.NotEqual(t, "2026-03-09", e.Day, "today stays pending")
		assert.True(t, e.Status.Terminal())
	}
}

func TestReopenKeepsSchemaAndData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medication_manager.db")
	ctx := context.Background()

	db, err := NewDB("sqlite3", path)
	require.NoError(t, err)
	_, err = db.CreatePatient(ctx, models.Patient{Name: "Grandpa Albert", Medicine: "Lisinopril", TimeDue: "08:00"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	patients, err := db.ListPatients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "Grandpa Albert", patients[0].Name)
}
