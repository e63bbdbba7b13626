package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/psibackend/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const purchaseColumns = `payment_id, user_id, credits, amount_cents, status, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, p *models.Purchase) (bool, error) {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO purchases (payment_id, user_id, credits, amount_cents, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (payment_id) DO NOTHING
		 RETURNING created_at, updated_at`,
		p.PaymentID, p.UserID, p.Credits, p.AmountCents, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error saving purchase: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Get(ctx context.Context, paymentID string) (*models.Purchase, error) {
	var p models.Purchase
	err := s.db.GetContext(ctx, &p, `SELECT `+purchaseColumns+` FROM purchases WHERE payment_id = $1`, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading purchase: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) Transition(ctx context.Context, paymentID string, status models.PurchaseStatus) (*models.Purchase, bool, error) {
	var p models.Purchase
	err := s.db.GetContext(ctx, &p,
		`UPDATE purchases SET status = $2, updated_at = CURRENT_TIMESTAMP
		 WHERE payment_id = $1 AND status <> 'PAID'
		 RETURNING `+purchaseColumns, paymentID, status)
	if errors.Is(err, sql.ErrNoRows) {
		current, gerr := s.Get(ctx, paymentID)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error updating purchase: %w", err)
	}
	return &p, true, nil
}

func (s *PostgresStore) Reset(ctx context.Context, paymentID string, status models.PurchaseStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE payment_id = $1`, paymentID, status)
	if err != nil {
		return fmt.Errorf("error resetting purchase: %w", err)
	}
	return nil
}
