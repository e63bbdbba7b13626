package patients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/psibackend/internal/db"
	"github.com/psibackend/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const patientColumns = `id, psychologist_id, name, COALESCE(email, '') AS email, COALESCE(phone, '') AS phone,
	COALESCE(cpf, '') AS cpf, birth_date, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *models.Patient) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO patients (id, psychologist_id, name, email, phone, cpf, birth_date)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		 RETURNING created_at, updated_at`,
		p.ID, p.PsychologistID, p.Name, p.Email, p.Phone, p.CPF, p.BirthDate,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("%w: unknown psychologist", ErrInvalidInput)
	}
	if err != nil {
		return fmt.Errorf("error creating patient: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, psychologistID, id string) (*models.Patient, error) {
	var p models.Patient
	err := s.db.GetContext(ctx, &p,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1 AND psychologist_id = $2`, id, psychologistID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading patient: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) List(ctx context.Context, psychologistID string) ([]models.Patient, error) {
	patients := []models.Patient{}
	err := s.db.SelectContext(ctx, &patients,
		`SELECT `+patientColumns+` FROM patients WHERE psychologist_id = $1 ORDER BY name`, psychologistID)
	if err != nil {
		return nil, fmt.Errorf("error listing patients: %w", err)
	}
	return patients, nil
}
