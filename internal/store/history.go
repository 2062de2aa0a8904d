package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/PatientImport/internal/core"
)

// HistoryStore records finished import runs in import_runs.
type HistoryStore struct {
	db querier
}

func NewHistoryStore(db querier) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) RecordRun(ctx context.Context, run core.ImportRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO import_runs (
			id, practitioner_id, file_name, total, patients_imported,
			consultations_imported, error_count, cancelled, duration_ms, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		core.ToPgUUID(run.ID),
		core.ToPgUUID(run.PractitionerID),
		run.FileName,
		run.Total,
		run.PatientsImported,
		run.ConsultationsImported,
		run.ErrorCount,
		run.Cancelled,
		run.DurationMs,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record import run: %w", err)
	}
	return nil
}

// ListRuns returns the practitioner's most recent runs, newest first.
func (s *HistoryStore) ListRuns(ctx context.Context, practitionerID uuid.UUID, limit int) ([]core.ImportRun, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, practitioner_id, file_name, total, patients_imported,
		       consultations_imported, error_count, cancelled, duration_ms, started_at
		FROM import_runs
		WHERE practitioner_id = $1
		ORDER BY started_at DESC
		LIMIT $2`,
		core.ToPgUUID(practitionerID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	runs := []core.ImportRun{}
	for rows.Next() {
		var (
			run     core.ImportRun
			id, pid pgtype.UUID
		)
		if err := rows.Scan(
			&id, &pid, &run.FileName, &run.Total, &run.PatientsImported,
			&run.ConsultationsImported, &run.ErrorCount, &run.Cancelled,
			&run.DurationMs, &run.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		run.ID = core.PgUUIDToUUID(id)
		run.PractitionerID = core.PgUUIDToUUID(pid)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import runs: %w", err)
	}
	return runs, nil
}
