package models

import (
	"fmt"
	"strings"
	"time"
)

// DayLayout is the calendar day key used by the status ledger.
const DayLayout = "2006-01-02"

// ClockLayout is the wall-clock format stored as time taken.
const ClockLayout = "15:04:05"

type Status string

const (
	StatusPending Status = "PENDING"
	StatusTaken   Status = "TAKEN"
	StatusMissed  Status = "MISSED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTaken, StatusMissed:
		return true
	}
	return false
}

// Terminal reports whether no further reminders are needed for the day.
func (s Status) Terminal() bool {
	return s == StatusTaken || s == StatusMissed
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Source records which path produced a ledger write.
type Source string

const (
	SourceVoice    Source = "voice"
	SourceHardware Source = "hardware"
	SourceManual   Source = "manual"
	SourceSystem   Source = "system"
)

type Patient struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Medicine string `json:"medicine"`
	TimeDue  string `json:"time_due"` // HH:MM

	// CreatedAt is zero for patients added before it was tracked.
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// DueAt returns the patient's due time on the day of ref, in ref's location.
func (p Patient) DueAt(ref time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", p.TimeDue)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time_due %q: %w", p.TimeDue, err)
	}
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, ref.Location()), nil
}

// PatientRef identifies a patient by ID, or by name when ID is zero.
type PatientRef struct {
	ID   int64
	Name string
}

func (r PatientRef) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("#%d", r.ID)
	}
	return r.Name
}

func RefOf(p Patient) PatientRef {
	return PatientRef{ID: p.ID, Name: p.Name}
}

type LogEntry struct {
	PatientID int64   `json:"patient_id"`
	Day       string  `json:"date"`
	Status    Status  `json:"status"`
	TimeTaken *string `json:"time_taken,omitempty"`
	Notes     string  `json:"notes"`
	Source    Source  `json:"source"`
}

// StatusEvent is broadcast after every successful ledger write.
type StatusEvent struct {
	PatientID   int64   `json:"patient_id"`
	PatientName string  `json:"patient_name"`
	Status      Status  `json:"status"`
	TimeTaken   *string `json:"time_taken"`
	Source      Source  `json:"source"`
}

type Alert struct {
	ID          string    `json:"id"`
	PatientName string    `json:"patient_name"`
	Reason      string    `json:"reason"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}
