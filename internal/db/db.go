package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Open connects to Postgres and makes sure the schema exists.
func Open(ctx context.Context, dbURL string) (*sqlx.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	conn, err := sqlx.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := CreateTables(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return conn, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS psychologists (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		password VARCHAR(255) NOT NULL,
		crp VARCHAR(32),
		cpf VARCHAR(14) UNIQUE NOT NULL,
		role VARCHAR(32) NOT NULL DEFAULT 'PSYCHOLOGIST',
		credits TEXT DEFAULT '0',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id UUID PRIMARY KEY,
		account_id UUID REFERENCES psychologists(id) ON DELETE CASCADE,
		delta BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reason VARCHAR(32) NOT NULL,
		reference_id VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id UUID PRIMARY KEY,
		psychologist_id UUID REFERENCES psychologists(id) ON DELETE CASCADE,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255),
		phone VARCHAR(32),
		cpf VARCHAR(14),
		birth_date DATE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (psychologist_id, cpf)
	)`,
	`CREATE TABLE IF NOT EXISTS anamnesis_links (
		token VARCHAR(255) PRIMARY KEY,
		psychologist_id UUID REFERENCES psychologists(id) ON DELETE CASCADE,
		origin_address VARCHAR(64),
		first_access_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS anamnesis_responses (
		id UUID PRIMARY KEY,
		psychologist_id UUID REFERENCES psychologists(id) ON DELETE CASCADE,
		patient_name VARCHAR(255) NOT NULL,
		answers TEXT NOT NULL,
		origin_address VARCHAR(64),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS clinical_records (
		id UUID PRIMARY KEY,
		patient_id UUID REFERENCES patients(id) ON DELETE CASCADE,
		psychologist_id UUID REFERENCES psychologists(id) ON DELETE CASCADE,
		title VARCHAR(255) NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS consultations (
		id UUID PRIMARY KEY,
		psychologist_id UUID REFERENCES psychologists(id) ON DELETE CASCADE,
		patient_id UUID REFERENCES patients(id) ON DELETE CASCADE,
		starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
		duration_minutes INT NOT NULL,
		notes TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		payment_id VARCHAR(255) PRIMARY KEY,
		user_id UUID REFERENCES psychologists(id),
		credits BIGINT NOT NULL,
		amount_cents BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`,
}

// CreateTables creates the schema if it doesn't exist.
func CreateTables(ctx context.Context, conn sqlx.ExecerContext) error {
	for _, query := range schema {
		if _, err := conn.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres duplicate-key error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
