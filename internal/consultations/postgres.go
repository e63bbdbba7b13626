package consultations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/psibackend/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// insertConsultation skips the insert when the slot overlaps. It is only
// race free under the practitioner lock taken by Create.
const insertConsultation = `
INSERT INTO consultations (id, psychologist_id, patient_id, starts_at, duration_minutes, notes)
SELECT $1, $2, $3, $4, $5, $6
WHERE NOT EXISTS (
	SELECT 1 FROM consultations
	WHERE psychologist_id = $2
	  AND starts_at < $7
	  AND starts_at + duration_minutes * INTERVAL '1 minute' > $4
)
RETURNING created_at`

// Create serializes bookings per practitioner with a transaction-scoped
// advisory lock, so two overlapping requests cannot both pass the check.
func (s *PostgresStore) Create(ctx context.Context, c *models.Consultation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.PsychologistID); err != nil {
		return fmt.Errorf("error locking schedule: %w", err)
	}

	err = tx.QueryRowxContext(ctx, insertConsultation,
		c.ID, c.PsychologistID, c.PatientID, c.StartsAt, c.DurationMinutes, c.Notes, c.EndsAt(),
	).Scan(&c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOverlap
	}
	if err != nil {
		return fmt.Errorf("error creating consultation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing consultation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFrom(ctx context.Context, psychologistID string, from time.Time) ([]models.Consultation, error) {
	list := []models.Consultation{}
	err := s.db.SelectContext(ctx, &list,
		`SELECT id, psychologist_id, patient_id, starts_at, duration_minutes, COALESCE(notes, '') AS notes, created_at
		 FROM consultations
		 WHERE psychologist_id = $1 AND starts_at >= $2
		 ORDER BY starts_at`, psychologistID, from)
	if err != nil {
		return nil, fmt.Errorf("error listing consultations: %w", err)
	}
	return list, nil
}
