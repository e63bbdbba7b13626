package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// numericCredits mirrors ParseBalance inside SQL: surrounding whitespace is
// ignored and anything but 1 to 18 digits counts as zero, so the cast can
// never overflow.
const numericCredits = `(CASE WHEN btrim(credits) ~ '^[0-9]{1,18}$' THEN btrim(credits)::bigint ELSE 0 END)`

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Balance(ctx context.Context, accountID string) (int64, error) {
	var raw sql.NullString
	err := s.db.GetContext(ctx, &raw, `SELECT credits FROM psychologists WHERE id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	if !raw.Valid {
		return 0, nil
	}
	return ParseBalance(&raw.String), nil
}

// Apply performs a single conditional update so concurrent debits cannot both
// pass the floor check.
func (s *PostgresStore) Apply(ctx context.Context, accountID string, delta int64, reason, reference string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.GetContext(ctx, &balance,
		`UPDATE psychologists
		SET credits = (`+numericCredits+` + $2)::text, updated_at = NOW()
		WHERE id = $1 AND `+numericCredits+` + $2 >= 0
		RETURNING credits::bigint`,
		accountID, delta,
	)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM psychologists WHERE id = $1)`, accountID); err != nil {
			return 0, fmt.Errorf("failed to check account: %w", err)
		}
		if !exists {
			return 0, ErrAccountNotFound
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, account_id, delta, balance_after, reason, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), accountID, delta, balance, reason, reference,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return balance, nil
}
