package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/PatientImport/internal/core"
)

// PatientStore persists patients in the patients table.
type PatientStore struct {
	db querier
}

func NewPatientStore(db querier) *PatientStore {
	return &PatientStore{db: db}
}

// FindByName matches last and first name case-insensitively within one
// practitioner's patients. The oldest match wins.
func (s *PatientStore) FindByName(ctx context.Context, practitionerID uuid.UUID, lastName, firstName string) (*core.Patient, error) {
	var (
		id, pid     pgtype.UUID
		last, first string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, practitioner_id, last_name, first_name
		FROM patients
		WHERE practitioner_id = $1
		  AND lower(last_name) = lower($2)
		  AND lower(first_name) = lower($3)
		ORDER BY created_at
		LIMIT 1`,
		core.ToPgUUID(practitionerID), lastName, firstName,
	).Scan(&id, &pid, &last, &first)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}

	return &core.Patient{
		ID:             core.PgUUIDToUUID(id),
		PractitionerID: core.PgUUIDToUUID(pid),
		LastName:       last,
		FirstName:      first,
	}, nil
}

// Insert creates a patient. Optional empty strings are stored as NULL.
func (s *PatientStore) Insert(ctx context.Context, rec core.PatientRecord) (*core.Patient, error) {
	birthDate, err := core.ToPgDate(rec.BirthDate)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}

	var id pgtype.UUID
	err = s.db.QueryRow(ctx, `
		INSERT INTO patients (
			practitioner_id, gender, last_name, first_name, birth_date, phone,
			email, profession, trauma_history, medical_history, surgical_history, family_history
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		core.ToPgUUID(rec.PractitionerID),
		string(rec.Gender),
		rec.LastName,
		rec.FirstName,
		birthDate,
		rec.Phone,
		core.ToPgText(rec.Email),
		core.ToPgText(rec.Profession),
		core.ToPgText(rec.TraumaHistory),
		core.ToPgText(rec.MedicalHistory),
		core.ToPgText(rec.SurgicalHistory),
		core.ToPgText(rec.FamilyHistory),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}

	return &core.Patient{
		ID:             core.PgUUIDToUUID(id),
		PractitionerID: rec.PractitionerID,
		LastName:       rec.LastName,
		FirstName:      rec.FirstName,
	}, nil
}
