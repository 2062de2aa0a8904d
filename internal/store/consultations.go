package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/PatientImport/internal/core"
)

// ConsultationStore persists consultations in the consultations table.
type ConsultationStore struct {
	db querier
}

func NewConsultationStore(db querier) *ConsultationStore {
	return &ConsultationStore{db: db}
}

// Insert creates a consultation. An empty DateTime is stored as NULL.
func (s *ConsultationStore) Insert(ctx context.Context, rec core.ConsultationRecord) (*core.Consultation, error) {
	dateTime, err := core.ToPgTimestamp(rec.DateTime)
	if err != nil {
		return nil, fmt.Errorf("insert consultation: %w", err)
	}

	var id pgtype.UUID
	err = s.db.QueryRow(ctx, `
		INSERT INTO consultations (patient_id, reason, date_time, anamnesis, examination, advice)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		core.ToPgUUID(rec.PatientID),
		rec.Reason,
		dateTime,
		core.ToPgText(rec.Anamnesis),
		core.ToPgText(rec.Examination),
		core.ToPgText(rec.Advice),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert consultation: %w", err)
	}

	return &core.Consultation{
		ID:        core.PgUUIDToUUID(id),
		PatientID: rec.PatientID,
	}, nil
}
