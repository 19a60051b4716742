package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medminder/internal/ledger"
	"medminder/pkg/models"
)

var _ ledger.Store = (*DB)(nil)

// likeEscaper keeps wildcards in a spoken name literal.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (db *DB) FindPatient(ctx context.Context, ref models.PatientRef) (*models.Patient, error) {
	if ref.ID != 0 {
		return db.GetPatient(ctx, ref.ID)
	}

	name := strings.ToLower(strings.TrimSpace(ref.Name))
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ledger.ErrPatientNotFound)
	}

	query := `
		SELECT id, name, medicine, time_due, created_at
		FROM patients
		WHERE LOWER(name) LIKE $1 ESCAPE '\'
		ORDER BY id ASC
		LIMIT 1
	`
	p, err := scanPatient(db.conn.QueryRowContext(ctx, query, "%"+likeEscaper.Replace(name)+"%"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrPatientNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find patient: %w", err)
	}
	return p, nil
}

func (db *DB) GetPatient(ctx context.Context, id int64) (*models.Patient, error) {
	query := `
		SELECT id, name, medicine, time_due, created_at
		FROM patients
		WHERE id = $1
	`
	p, err := scanPatient(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: #%d", ledger.ErrPatientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return p, nil
}

func (db *DB) ListPatients(ctx context.Context) ([]models.Patient, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, medicine, time_due, created_at FROM patients ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		patients = append(patients, *p)
	}
	return patients, rows.Err()
}

func (db *DB) CreatePatient(ctx context.Context, p models.Patient) (models.Patient, error) {
	query := `
		INSERT INTO patients (name, medicine, time_due, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	created := sql.NullTime{Time: p.CreatedAt.UTC(), Valid: !p.CreatedAt.IsZero()}
	if err := db.conn.QueryRowContext(ctx, query, p.Name, p.Medicine, p.TimeDue, created).Scan(&p.ID); err != nil {
		return models.Patient{}, fmt.Errorf("failed to create patient: %w", err)
	}
	return p, nil
}

func (db *DB) GetEntry(ctx context.Context, patientID int64, day string) (*models.LogEntry, error) {
	query := `
		SELECT patient_id, date, status, time_taken, notes, source
		FROM medication_logs
		WHERE patient_id = $1 AND date = $2
	`
	e, err := scanEntry(db.conn.QueryRowContext(ctx, query, patientID, day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// UpsertEntry writes the single entry for (patient, day).
func (db *DB) UpsertEntry(ctx context.Context, e models.LogEntry) error {
	query := `
		INSERT INTO medication_logs (patient_id, date, status, time_taken, notes, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (patient_id, date) DO UPDATE SET
			status = excluded.status,
			time_taken = excluded.time_taken,
			notes = excluded.notes,
			source = excluded.source
	`
	var taken sql.NullString
	if e.TimeTaken != nil {
		taken = sql.NullString{String: *e.TimeTaken, Valid: true}
	}
	if _, err := db.conn.ExecContext(ctx, query, e.PatientID, e.Day, string(e.Status), taken, e.Notes, string(e.Source)); err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

func (db *DB) ListEntries(ctx context.Context, patientID int64) ([]models.LogEntry, error) {
	query := `
		SELECT patient_id, date, status, time_taken, notes, source
		FROM medication_logs
		WHERE patient_id = $1
		ORDER BY date ASC
	`
	return db.queryEntries(ctx, query, patientID)
}

func (db *DB) ListAllEntries(ctx context.Context) ([]models.LogEntry, error) {
	query := `
		SELECT patient_id, date, status, time_taken, notes, source
		FROM medication_logs
		ORDER BY date ASC, patient_id ASC
	`
	return db.queryEntries(ctx, query)
}

// DeleteDay removes every entry for day, returning everyone to PENDING.
func (db *DB) DeleteDay(ctx context.Context, day string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM medication_logs WHERE date = $1`, day)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...any) ([]models.LogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(s scanner) (*models.Patient, error) {
	var (
		p       models.Patient
		created sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Medicine, &p.TimeDue, &created); err != nil {
		return nil, err
	}
	if created.Valid {
		p.CreatedAt = created.Time
	}
	return &p, nil
}

func scanEntry(s scanner) (*models.LogEntry, error) {
	var (
		e      models.LogEntry
		status string
		source string
		taken  sql.NullString
	)
	if err := s.Scan(&e.PatientID, &e.Day, &status, &taken, &e.Notes, &source); err != nil {
		return nil, err
	}
	e.Status = models.Status(status)
	e.Source = models.Source(source)
	if taken.Valid {
		e.TimeTaken = &taken.String
	}
	return &e, nil
}
