package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"medminder/pkg/models"
)

type entryKey struct {
	patientID int64
	day       string
}

// MemoryStore keeps patients and entries in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	patients []models.Patient
	entries  map[entryKey]models.LogEntry
	failing  int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(patients ...models.Patient) *MemoryStore {
	m := &MemoryStore{entries: make(map[entryKey]models.LogEntry)}
	for _, p := range patients {
		m.CreatePatient(context.Background(), p)
	}
	return m
}

func (m *MemoryStore) FindPatient(_ context.Context, ref models.PatientRef) (*models.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ref.ID != 0 {
		for _, p := range m.patients {
			if p.ID == ref.ID {
				p := p
				return &p, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, ref)
	}

	needle := strings.ToLower(strings.TrimSpace(ref.Name))
	if needle == "" {
		return nil, fmt.Errorf("%w: empty name", ErrPatientNotFound)
	}
	for _, p := range m.patients {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			p := p
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, ref)
}

func (m *MemoryStore) GetEntry(_ context.Context, patientID int64, day string) (*models.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryKey{patientID, day}]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (m *MemoryStore) UpsertEntry(_ context.Context, entry models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing > 0 {
		m.failing--
		return fmt.Errorf("memory store: injected upsert failure")
	}
	m.entries[entryKey{entry.PatientID, entry.Day}] = entry
	return nil
}

// FailUpserts makes the next n UpsertEntry calls fail.
func (m *MemoryStore) FailUpserts(n int) {
	m.mu.Lock()
	m.failing = n
	m.mu.Unlock()
}

func (m *MemoryStore) ListPatients(_ context.Context) ([]models.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Patient(nil), m.patients...), nil
}

func (m *MemoryStore) GetPatient(ctx context.Context, id int64) (*models.Patient, error) {
	return m.FindPatient(ctx, models.PatientRef{ID: id})
}

func (m *MemoryStore) CreatePatient(_ context.Context, p models.Patient) (models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	p.ID = m.nextID
	m.patients = append(m.patients, p)
	return p, nil
}

// ListEntries returns one patient's entries ordered by day.
func (m *MemoryStore) ListEntries(_ context.Context, patientID int64) ([]models.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LogEntry
	for k, e := range m.entries {
		if k.patientID == patientID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryStore) ListAllEntries(_ context.Context) ([]models.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.LogEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// DeleteDay removes every entry for day and reports how many were removed.
func (m *MemoryStore) DeleteDay(_ context.Context, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k := range m.entries {
		if k.day == day {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func sortEntries(entries []models.LogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Day != entries[j].Day {
			return entries[i].Day < entries[j].Day
		}
		return entries[i].PatientID < entries[j].PatientID
	})
}
