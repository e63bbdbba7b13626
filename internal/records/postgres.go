package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/psibackend/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, patient_id, psychologist_id, title, content, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *models.ClinicalRecord) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO clinical_records (id, patient_id, psychologist_id, title, content)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		r.ID, r.PatientID, r.PsychologistID, r.Title, r.Content,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating clinical record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, psychologistID, id string) (*models.ClinicalRecord, error) {
	var r models.ClinicalRecord
	err := s.db.GetContext(ctx, &r,
		`SELECT `+recordColumns+` FROM clinical_records WHERE id = $1 AND psychologist_id = $2`, id, psychologistID)
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading clinical record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListByPatient(ctx context.Context, psychologistID, patientID string) ([]models.ClinicalRecord, error) {
	list := []models.ClinicalRecord{}
	err := s.db.SelectContext(ctx, &list,
		`SELECT `+recordColumns+` FROM clinical_records
		 WHERE patient_id = $1 AND psychologist_id = $2
		 ORDER BY created_at DESC`, patientID, psychologistID)
	if err != nil {
		return nil, fmt.Errorf("error listing clinical records: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Update(ctx context.Context, r *models.ClinicalRecord) error {
	err := s.db.QueryRowxContext(ctx,
		`UPDATE clinical_records SET title = $3, content = $4, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1 AND psychologist_id = $2
		 RETURNING updated_at`,
		r.ID, r.PsychologistID, r.Title, r.Content,
	).Scan(&r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error updating clinical record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, psychologistID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM clinical_records WHERE id = $1 AND psychologist_id = $2`, id, psychologistID)
	if isInvalidUUID(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error deleting clinical record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
