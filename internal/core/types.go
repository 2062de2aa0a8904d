package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gender is the binary gender stored on a patient record.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// Defaults applied when a source cell is empty.
const (
	DefaultLastName = "Inconnu"
	DefaultReason   = "Consultation"

	// DefaultPlaceholderPhone fills the mandatory phone column when the
	// export has none. Overridable through IMPORT_PLACEHOLDER_PHONE.
	DefaultPlaceholderPhone = "0000000000"

	// ConsultationTime is appended to a parsed consultation date.
	ConsultationTime = "09:00:00"
)

// PatientRecord is the payload for creating a patient.
// Empty optional strings are stored as NULL.
type PatientRecord struct {
	PractitionerID  uuid.UUID
	Gender          Gender
	LastName        string
	FirstName       string
	BirthDate       string // YYYY-MM-DD
	Phone           string
	Email           string
	Profession      string
	TraumaHistory   string
	MedicalHistory  string
	SurgicalHistory string
	FamilyHistory   string
}

// ConsultationRecord is the payload for creating a consultation.
type ConsultationRecord struct {
	PatientID   uuid.UUID
	Reason      string
	DateTime    string // YYYY-MM-DDTHH:MM:SS, empty when unknown
	Anamnesis   string
	Examination string
	Advice      string
}

// Patient is a stored patient as returned by a PatientStore.
type Patient struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	LastName       string
	FirstName      string
}

// Consultation is a stored consultation as returned by a ConsultationStore.
type Consultation struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

// PatientStore persists patients.
type PatientStore interface {
	// FindByName returns the practitioner's patient whose last and first
	// names match case-insensitively, or (nil, nil) when there is none.
	FindByName(ctx context.Context, practitionerID uuid.UUID, lastName, firstName string) (*Patient, error)
	Insert(ctx context.Context, rec PatientRecord) (*Patient, error)
}

// ConsultationStore persists consultations.
type ConsultationStore interface {
	Insert(ctx context.Context, rec ConsultationRecord) (*Consultation, error)
}

// PractitionerResolver maps an authenticated user to a practitioner profile.
// Implementations return ErrPractitionerNotFound when the user has none.
type PractitionerResolver interface {
	ResolvePractitionerID(ctx context.Context, userID string) (uuid.UUID, error)
}

// HistoryStore records finished import runs.
type HistoryStore interface {
	RecordRun(ctx context.Context, run ImportRun) error
	ListRuns(ctx context.Context, practitionerID uuid.UUID, limit int) ([]ImportRun, error)
}

// RowErrorKind classifies a row-scoped failure.
type RowErrorKind string

const (
	PatientLookupFailure      RowErrorKind = "patient_lookup"
	PatientInsertFailure      RowErrorKind = "patient_insert"
	ConsultationInsertFailure RowErrorKind = "consultation_insert"
)

// RowError is a failure tied to one input row. Row is the 1-based line number
// a spreadsheet user sees, counting the header as line 1.
type RowError struct {
	Row     int          `json:"row"`
	Kind    RowErrorKind `json:"kind"`
	Message string       `json:"message"`
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Total                 int           `json:"total"`
	PatientsImported      int           `json:"patientsImported"`
	PatientsReused        int           `json:"patientsReused"`
	ConsultationsImported int           `json:"consultationsImported"`
	Skipped               int           `json:"skipped"`
	Errors                []RowError    `json:"errors"`
	Cancelled             bool          `json:"cancelled"`
	Duration              time.Duration `json:"duration"`
}

// ImportPhase is the workflow step a session is in.
type ImportPhase string

const (
	PhaseUpload    ImportPhase = "upload"
	PhaseMapping   ImportPhase = "mapping"
	PhaseImporting ImportPhase = "importing"
	PhaseDone      ImportPhase = "done"
)

// ImportProgress is a snapshot of a running import.
type ImportProgress struct {
	SessionID             string      `json:"sessionId"`
	Phase                 ImportPhase `json:"phase"`
	FileName              string      `json:"fileName"`
	TotalRows             int         `json:"totalRows"`
	CurrentRow            int         `json:"currentRow"`
	PatientsImported      int         `json:"patientsImported"`
	ConsultationsImported int         `json:"consultationsImported"`
	Errors                int         `json:"errors"`
	Percent               int         `json:"percent"`
	Error                 string      `json:"error,omitempty"`
}

// ProgressCallback is called after every processed row.
type ProgressCallback func(ImportProgress)

// ImportRun is the persisted summary of a finished import.
type ImportRun struct {
	ID                    uuid.UUID `json:"id"`
	PractitionerID        uuid.UUID `json:"practitionerId"`
	FileName              string    `json:"fileName"`
	Total                 int       `json:"total"`
	PatientsImported      int       `json:"patientsImported"`
	ConsultationsImported int       `json:"consultationsImported"`
	ErrorCount            int       `json:"errorCount"`
	Cancelled             bool      `json:"cancelled"`
	DurationMs            int64     `json:"durationMs"`
	StartedAt             time.Time `json:"startedAt"`
}
