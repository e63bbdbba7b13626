package anamnesis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (s *PostgresStore) Create(ctx context.Context, link *models.AnamnesisLink) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anamnesis_links (token, psychologist_id, created_at) VALUES ($1, $2, $3)`,
		link.Token, link.PsychologistID, link.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, token string) (*models.AnamnesisLink, error) {
	var link models.AnamnesisLink
	err := s.db.GetContext(ctx, &link,
		`SELECT token, psychologist_id, origin_address, first_access_at, created_at
		FROM anamnesis_links WHERE token = $1`,
		token,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// BindFirstAccess upserts the binding; the WHERE clause keeps an already bound
// or foreign link untouched, so only one concurrent first access can win.
func (s *PostgresStore) BindFirstAccess(ctx context.Context, accountID, token, origin string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO anamnesis_links (token, psychologist_id, origin_address, first_access_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE
		SET origin_address = EXCLUDED.origin_address, first_access_at = EXCLUDED.first_access_at
		WHERE anamnesis_links.first_access_at IS NULL
			AND anamnesis_links.psychologist_id = EXCLUDED.psychologist_id`,
		token, accountID, origin, at,
	)
	if err != nil {
		var pqErr *pq.Error
		// Unknown practitioner (foreign key) or malformed uuid.
		if errors.As(err, &pqErr) && (pqErr.Code == "23503" || pqErr.Code == "22P02") {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, accountID, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM anamnesis_links WHERE token = $1 AND psychologist_id = $2`,
		token, accountID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConsumeLink runs in one transaction. SELECT ... FOR UPDATE makes a
// concurrent submit wait, after which it finds no row.
func (s *PostgresStore) ConsumeLink(ctx context.Context, token string, resp *models.AnamnesisResponse, authorize func(*models.AnamnesisLink) bool) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var link models.AnamnesisLink
	err = tx.GetContext(ctx, &link,
		`SELECT token, psychologist_id, origin_address, first_access_at, created_at
		FROM anamnesis_links WHERE token = $1 AND psychologist_id = $2
		FOR UPDATE`,
		token, resp.PsychologistID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return false, nil
		}
		return false, err
	}
	if !authorize(&link) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM anamnesis_links WHERE token = $1`, token); err != nil {
		return false, err
	}
	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO anamnesis_responses (id, psychologist_id, patient_name, answers, origin_address, created_at)
		VALUES (:id, :psychologist_id, :patient_name, :answers, :origin_address, :created_at)`,
		resp,
	)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetResponse(ctx context.Context, accountID, id string) (*models.AnamnesisResponse, error) {
	var resp models.AnamnesisResponse
	err := s.db.GetContext(ctx, &resp,
		`SELECT id, psychologist_id, patient_name, answers, COALESCE(origin_address, '') AS origin_address, created_at
		FROM anamnesis_responses WHERE id = $1 AND psychologist_id = $2`,
		id, accountID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResponseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
