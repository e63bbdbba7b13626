package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/psibackend/internal/db"
	"github.com/psibackend/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, name, email, password, COALESCE(crp, '') AS crp, cpf, role, credits, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, acc *models.Account) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO psychologists (name, email, password, crp, cpf, role, credits)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		acc.Name, acc.Email, acc.Password, acc.CRP, acc.CPF, acc.Role, acc.Credits,
	).Scan(&acc.ID, &acc.CreatedAt, &acc.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("error creating account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM psychologists WHERE email = $1`, email)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Account, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM psychologists WHERE id = $1`, id)
}

func (s *PostgresStore) getOne(ctx context.Context, query, arg string) (*models.Account, error) {
	var acc models.Account
	err := s.db.GetContext(ctx, &acc, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading account: %w", err)
	}
	return &acc, nil
}
