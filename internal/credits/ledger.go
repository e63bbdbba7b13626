package credits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/psibackend/internal/metrics"
	"github.com/sirupsen/logrus"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
)

// Reasons recorded on credit_transactions rows.
const (
	ReasonGeneration = "generation"
	ReasonPurchase   = "purchase"
	ReasonRefund     = "refund"
)

// Store persists string-encoded balances. Apply must be atomic: it adds delta
// only when the result stays >= 0, and otherwise returns ErrInsufficientCredits
// without writing.
type Store interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	Apply(ctx context.Context, accountID string, delta int64, reason, reference string) (int64, error)
}

type Ledger struct {
	store Store
	log   logrus.FieldLogger
}

func NewLedger(store Store, log logrus.FieldLogger) *Ledger {
	return &Ledger{store: store, log: log.WithField("component", "credits")}
}

// Balance returns the current balance; absent or garbage values read as zero.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	if strings.TrimSpace(accountID) == "" {
		return 0, ErrAccountNotFound
	}
	return l.store.Balance(ctx, accountID)
}

// Debit removes quantity from the balance, failing with ErrInsufficientCredits
// and no mutation when the balance is lower than quantity.
func (l *Ledger) Debit(ctx context.Context, accountID string, quantity int64, reference string) (int64, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	balance, err := l.store.Apply(ctx, accountID, -quantity, ReasonGeneration, reference)
	metrics.RecordCreditMutation("debit", err)
	if err != nil {
		if !errors.Is(err, ErrInsufficientCredits) && !errors.Is(err, ErrAccountNotFound) {
			return 0, fmt.Errorf("failed to debit credits: %w", err)
		}
		return 0, err
	}

	l.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"quantity":   quantity,
		"balance":    balance,
		"reference":  reference,
	}).Info("credits debited")
	return balance, nil
}

// Credit adds quantity to the balance.
func (l *Ledger) Credit(ctx context.Context, accountID string, quantity int64, reason, reference string) (int64, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	balance, err := l.store.Apply(ctx, accountID, quantity, reason, reference)
	metrics.RecordCreditMutation(reason, err)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return 0, fmt.Errorf("failed to credit credits: %w", err)
		}
		return 0, err
	}

	l.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"quantity":   quantity,
		"balance":    balance,
		"reason":     reason,
		"reference":  reference,
	}).Info("credits added")
	return balance, nil
}

// maxBalanceDigits keeps every accepted balance inside int64.
const maxBalanceDigits = 18

// ParseBalance decodes the stored representation: 1 to 18 ASCII digits,
// optionally padded with whitespace. Anything else reads as zero.
func ParseBalance(raw *string) int64 {
	if raw == nil {
		return 0
	}
	digits := strings.TrimSpace(*raw)
	if digits == "" || len(digits) > maxBalanceDigits {
		return 0
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func FormatBalance(n int64) string {
	return strconv.FormatInt(n, 10)
}
