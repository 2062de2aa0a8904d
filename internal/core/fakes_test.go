package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// memPatients is an in-memory PatientStore.
type memPatients struct {
	mu       sync.Mutex
	patients []PatientRecord
	ids      []uuid.UUID

	// failInsert makes Insert fail for the given last names.
	failInsert map[string]error
	// failLookup makes FindByName fail for the given last names.
	failLookup map[string]error
	// block makes every call wait until ctx is done.
	block bool

	lookups int
}

func newMemPatients() *memPatients {
	return &memPatients{
		failInsert: make(map[string]error),
		failLookup: make(map[string]error),
	}
}

func (m *memPatients) FindByName(ctx context.Context, practitionerID uuid.UUID, lastName, firstName string) (*Patient, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if err := m.failLookup[lastName]; err != nil {
		return nil, err
	}
	for i, p := range m.patients {
		if p.PractitionerID == practitionerID &&
			strings.EqualFold(p.LastName, lastName) &&
			strings.EqualFold(p.FirstName, firstName) {
			return &Patient{ID: m.ids[i], PractitionerID: practitionerID, LastName: p.LastName, FirstName: p.FirstName}, nil
		}
	}
	return nil, nil
}

func (m *memPatients) Insert(ctx context.Context, rec PatientRecord) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInsert[rec.LastName]; err != nil {
		return nil, err
	}
	id := uuid.New()
	m.patients = append(m.patients, rec)
	m.ids = append(m.ids, id)
	return &Patient{ID: id, PractitionerID: rec.PractitionerID, LastName: rec.LastName, FirstName: rec.FirstName}, nil
}

func (m *memPatients) all() []PatientRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PatientRecord(nil), m.patients...)
}

// memConsultations is an in-memory ConsultationStore.
type memConsultations struct {
	mu            sync.Mutex
	consultations []ConsultationRecord
	failReason    map[string]error
}

func newMemConsultations() *memConsultations {
	return &memConsultations{failReason: make(map[string]error)}
}

func (m *memConsultations) Insert(ctx context.Context, rec ConsultationRecord) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failReason[rec.Reason]; err != nil {
		return nil, err
	}
	m.consultations = append(m.consultations, rec)
	return &Consultation{ID: uuid.New(), PatientID: rec.PatientID}, nil
}

func (m *memConsultations) all() []ConsultationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ConsultationRecord(nil), m.consultations...)
}

// staticResolver resolves every known user to a fixed practitioner.
type staticResolver map[string]uuid.UUID

func (r staticResolver) ResolvePractitionerID(ctx context.Context, userID string) (uuid.UUID, error) {
	id, ok := r[userID]
	if !ok {
		return uuid.Nil, ErrPractitionerNotFound
	}
	return id, nil
}

// memHistory is an in-memory HistoryStore.
type memHistory struct {
	mu   sync.Mutex
	runs []ImportRun
}

func (h *memHistory) RecordRun(ctx context.Context, run ImportRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return nil
}

func (h *memHistory) ListRuns(ctx context.Context, practitionerID uuid.UUID, limit int) ([]ImportRun, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ImportRun
	for i := len(h.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if h.runs[i].PractitionerID == practitionerID {
			out = append(out, h.runs[i])
		}
	}
	return out, nil
}

var errStoreDown = errors.New("connection refused")
