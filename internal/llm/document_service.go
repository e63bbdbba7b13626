package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psibackend/internal/credits"
	"github.com/psibackend/internal/metrics"
	"github.com/sirupsen/logrus"
)

var ErrUpstream = errors.New("document generation failed")

// refundTimeout bounds the refund, which runs detached from the request
// context because that context is often why the model call failed.
const refundTimeout = 5 * time.Second

// Ledger is the part of credits.Ledger the generator needs.
type Ledger interface {
	Debit(ctx context.Context, accountID string, quantity int64, reference string) (int64, error)
	Credit(ctx context.Context, accountID string, quantity int64, reason, reference string) (int64, error)
}

type Document struct {
	ID               string  `json:"id"`
	Template         string  `json:"template"`
	Text             string  `json:"text"`
	CreditsRemaining int64   `json:"creditsRemaining"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
}

type DocumentService struct {
	model  Model
	ledger Ledger
	cost   int64
	log    logrus.FieldLogger
}

func NewDocumentService(model Model, ledger Ledger, cost int64, log logrus.FieldLogger) *DocumentService {
	if cost <= 0 {
		cost = 1
	}
	return &DocumentService{
		model:  model,
		ledger: ledger,
		cost:   cost,
		log:    log.WithField("component", "documents"),
	}
}

// Generate charges the practitioner before calling the model and refunds the
// charge if the model call fails.
func (s *DocumentService) Generate(ctx context.Context, accountID string, req DocumentRequest) (*Document, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	reference := uuid.NewString()
	log := s.log.WithFields(logrus.Fields{
		"account_id":  accountID,
		"template":    req.Template,
		"document_id": reference,
	})

	balance, err := s.ledger.Debit(ctx, accountID, s.cost, reference)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	completion, err := s.model.Generate(ctx, systemPrompt, prompt)
	metrics.RecordGeneration(req.Template, started, err)
	if err != nil {
		log.WithError(err).Error("model invocation failed")
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
		defer cancel()
		if _, rerr := s.ledger.Credit(rctx, accountID, s.cost, credits.ReasonRefund, reference); rerr != nil {
			log.WithError(rerr).Error("failed to refund credits after model failure")
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	cost := EstimateLLMCost(completion.InputTokens, completion.OutputTokens, s.model.ID())
	log.WithFields(logrus.Fields{
		"input_tokens":       completion.InputTokens,
		"output_tokens":      completion.OutputTokens,
		"estimated_cost_usd": cost,
		"duration_ms":        time.Since(started).Milliseconds(),
	}).Info("document generated")

	return &Document{
		ID:               reference,
		Template:         req.Template,
		Text:             completion.Text,
		CreditsRemaining: balance,
		EstimatedCostUSD: cost,
	}, nil
}
