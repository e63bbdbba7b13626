package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psibackend/internal/credits"
	"github.com/psibackend/internal/models"
	"github.com/sirupsen/logrus"
)

const savePayEndpoint = "savepay"

const resetTimeout = 5 * time.Second

var (
	ErrInvalidInput      = errors.New("invalid payment")
	ErrNotFound          = errors.New("payment not found")
	ErrConflict          = errors.New("payment id already used by another account")
	ErrInvalidTransition = errors.New("payment already settled as PAID")
)

type Store interface {
	// Insert writes p unless payment_id exists and reports whether it did.
	Insert(ctx context.Context, p *models.Purchase) (bool, error)
	Get(ctx context.Context, paymentID string) (*models.Purchase, error)
	// Transition moves a purchase that is not PAID to status. It returns
	// false when the purchase is already PAID.
	Transition(ctx context.Context, paymentID string, status models.PurchaseStatus) (*models.Purchase, bool, error)
	// Reset forces status, used to undo a PAID transition whose credit failed.
	Reset(ctx context.Context, paymentID string, status models.PurchaseStatus) error
}

type Ledger interface {
	Credit(ctx context.Context, accountID string, quantity int64, reason, reference string) (int64, error)
}

// Idempotency runs handler at most once per user and scope.
type Idempotency interface {
	Process(ctx context.Context, userID, endpoint, scope, requestBody string, out interface{}, handler func() (interface{}, error)) error
}

type SaveInput struct {
	PaymentID   string                `json:"paymentId"`
	Credits     int64                 `json:"credits"`
	AmountCents int64                 `json:"amountCents"`
	Status      models.PurchaseStatus `json:"status"`
}

type Service struct {
	store       Store
	ledger      Ledger
	idempotency Idempotency
	log         logrus.FieldLogger
}

func NewService(store Store, ledger Ledger, idem Idempotency, log logrus.FieldLogger) *Service {
	return &Service{store: store, ledger: ledger, idempotency: idem, log: log.WithField("component", "payments")}
}

func (in *SaveInput) validate() error {
	in.PaymentID = strings.TrimSpace(in.PaymentID)
	if in.Status == "" {
		in.Status = models.PurchasePending
	}
	switch {
	case in.PaymentID == "":
		return fmt.Errorf("%w: paymentId is required", ErrInvalidInput)
	case in.Credits <= 0:
		return fmt.Errorf("%w: credits must be positive", ErrInvalidInput)
	case in.AmountCents < 0:
		return fmt.Errorf("%w: amountCents must not be negative", ErrInvalidInput)
	case !in.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	case in.Status == models.PurchasePaid:
		// Settlement only happens through the confirmation route.
		return fmt.Errorf("%w: a purchase cannot be saved as PAID", ErrInvalidInput)
	}
	return nil
}

// Save records a purchase for userID. Repeating the same request returns the
// stored purchase without writing again.
func (s *Service) Save(ctx context.Context, userID string, in SaveInput) (*models.Purchase, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	var out models.Purchase
	err = s.idempotency.Process(ctx, userID, savePayEndpoint, in.PaymentID, string(body), &out, func() (interface{}, error) {
		return s.save(ctx, userID, in)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) save(ctx context.Context, userID string, in SaveInput) (*models.Purchase, error) {
	p := &models.Purchase{
		PaymentID:   in.PaymentID,
		UserID:      userID,
		Credits:     in.Credits,
		AmountCents: in.AmountCents,
		Status:      in.Status,
	}
	inserted, err := s.store.Insert(ctx, p)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.log.WithFields(logrus.Fields{"payment_id": p.PaymentID, "user_id": userID, "credits": p.Credits}).Info("purchase saved")
		return p, nil
	}

	existing, err := s.store.Get(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, ErrConflict
	}
	return existing, nil
}

// Status returns the purchase status, visible only to its buyer.
func (s *Service) Status(ctx context.Context, userID, paymentID string) (models.PurchaseStatus, error) {
	if strings.TrimSpace(paymentID) == "" {
		return "", fmt.Errorf("%w: paymentId is required", ErrInvalidInput)
	}
	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if p.UserID != userID {
		return "", ErrNotFound
	}
	return p.Status, nil
}

// UpdateStatus settles a purchase. The first transition into PAID credits the
// buyer; later PAID updates are no-ops.
func (s *Service) UpdateStatus(ctx context.Context, paymentID string, status models.PurchaseStatus) (*models.Purchase, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("%w: paymentId is required", ErrInvalidInput)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	previous, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	p, changed, err := s.store.Transition(ctx, paymentID, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		if status == models.PurchasePaid {
			return p, nil
		}
		return nil, ErrInvalidTransition
	}

	log := s.log.WithFields(logrus.Fields{"payment_id": paymentID, "status": status})
	if status != models.PurchasePaid {
		log.Info("purchase status updated")
		return p, nil
	}

	if _, err := s.ledger.Credit(ctx, p.UserID, p.Credits, credits.ReasonPurchase, paymentID); err != nil {
		log.WithError(err).Error("failed to credit purchase, reverting status")
		// The revert must run even when ctx is what failed the credit.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetTimeout)
		defer cancel()
		if rerr := s.store.Reset(rctx, paymentID, previous.Status); rerr != nil {
			log.WithError(rerr).Error("failed to revert purchase status")
		}
		return nil, fmt.Errorf("error crediting purchase: %w", err)
	}
	log.WithField("credits", p.Credits).Info("purchase paid and credited")
	return p, nil
}
