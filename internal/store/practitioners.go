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

// PractitionerResolver looks up practitioner profiles by auth user ID.
type PractitionerResolver struct {
	db querier
}

func NewPractitionerResolver(db querier) *PractitionerResolver {
	return &PractitionerResolver{db: db}
}

func (r *PractitionerResolver) ResolvePractitionerID(ctx context.Context, userID string) (uuid.UUID, error) {
	var id pgtype.UUID
	err := r.db.QueryRow(ctx,
		`SELECT id FROM practitioners WHERE user_id = $1`, userID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, core.ErrPractitionerNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve practitioner: %w", err)
	}
	return core.PgUUIDToUUID(id), nil
}

// EnsurePractitioner returns the practitioner linked to userID, creating the
// profile when it does not exist yet. Used by the CLI to bootstrap a database.
func (r *PractitionerResolver) EnsurePractitioner(ctx context.Context, userID, name string) (uuid.UUID, error) {
	var id pgtype.UUID
	err := r.db.QueryRow(ctx, `
		INSERT INTO practitioners (user_id, name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id`,
		userID, core.ToPgText(name),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure practitioner: %w", err)
	}
	return core.PgUUIDToUUID(id), nil
}
