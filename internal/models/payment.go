package models

import (
	"time"
)

type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "PENDING"
	PurchasePaid     PurchaseStatus = "PAID"
	PurchaseFailed   PurchaseStatus = "FAILED"
	PurchaseCanceled PurchaseStatus = "CANCELED"
)

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchasePending, PurchasePaid, PurchaseFailed, PurchaseCanceled:
		return true
	}
	return false
}

// Purchase is a credit purchase keyed by the payment provider transaction id.
type Purchase struct {
	PaymentID   string         `json:"payment_id" db:"payment_id"`
	UserID      string         `json:"user_id" db:"user_id"`
	Credits     int64          `json:"credits" db:"credits"`
	AmountCents int64          `json:"amount_cents" db:"amount_cents"`
	Status      PurchaseStatus `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}
