package models

import (
	"time"
)

type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RolePsychologist      Role = "PSYCHOLOGIST"
	RoleCommon            Role = "COMMON"
	RoleAdminPsychologist Role = "ADMIN_PSYCHOLOGIST"
)

// Account is a practitioner (or staff) login. Credits is stored as a
// string-encoded integer, see the credits package.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Password  string    `json:"-" db:"password"` // Password is never exposed in JSON
	CRP       string    `json:"crp" db:"crp"`    // professional license number
	CPF       string    `json:"cpf" db:"cpf"`
	Role      Role      `json:"role" db:"role"`
	Credits   *string   `json:"-" db:"credits"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CreditTransaction struct {
	ID           string    `json:"id" db:"id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	Delta        int64     `json:"delta" db:"delta"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Reason       string    `json:"reason" db:"reason"`
	ReferenceID  string    `json:"reference_id" db:"reference_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type IdempotencyKey struct {
	Key         string    `json:"key"`
	UserID      string    `json:"user_id"`
	RequestHash string    `json:"request_hash"`
	Response    string    `json:"response"`
	Status      string    `json:"status"` // "pending", "completed", "failed"
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
