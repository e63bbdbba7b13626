package anamnesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psibackend/internal/encryption"
	"github.com/psibackend/internal/metrics"
	"github.com/psibackend/internal/models"
	"github.com/sirupsen/logrus"
)

const DefaultWindow = 30 * time.Minute

var (
	ErrMissingParameters = errors.New("missing parameters")
	ErrUnauthorized      = errors.New("link not authorized")
	ErrLinkNotFound      = errors.New("link not found")
	ErrResponseNotFound  = errors.New("anamnesis response not found")
	ErrInvalidAnswers    = errors.New("patient name and answers are required")
)

// Reasons reported by Validate.
const (
	ReasonFirstAccess    = "first_access"
	ReasonWithinWindow   = "within_window"
	ReasonOriginMismatch = "origin_mismatch"
	ReasonExpired        = "expired"
	ReasonForeign        = "foreign_link"
	ReasonBadSignature   = "bad_signature"
	ReasonUnknown        = "unknown_link"
)

type Store interface {
	Create(ctx context.Context, link *models.AnamnesisLink) error
	Get(ctx context.Context, token string) (*models.AnamnesisLink, error)
	// BindFirstAccess claims an unbound (or absent) link for accountID. It
	// reports false when the link was already bound or belongs to someone else.
	BindFirstAccess(ctx context.Context, accountID, token, origin string, at time.Time) (bool, error)
	Delete(ctx context.Context, accountID, token string) (bool, error)
	// ConsumeLink locks the practitioner's link, asks authorize about it, and
	// on approval deletes it and saves resp in one step. It reports false,
	// saving nothing, when the link is gone or authorize refuses it.
	ConsumeLink(ctx context.Context, token string, resp *models.AnamnesisResponse, authorize func(*models.AnamnesisLink) bool) (bool, error)
	GetResponse(ctx context.Context, accountID, id string) (*models.AnamnesisResponse, error)
}

type Decision struct {
	Authorized bool
	Reason     string
}

type Link struct {
	Token            string `json:"token"`
	URL              string `json:"link"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
}

type Options struct {
	Window  time.Duration
	BaseURL string
	// Signer is optional; without it tokens are opaque random strings.
	Signer *Signer
	Now    func() time.Time
}

type Service struct {
	store   Store
	cipher  encryption.Cipher
	log     logrus.FieldLogger
	window  time.Duration
	baseURL string
	signer  *Signer
	now     func() time.Time
}

func NewService(store Store, cipher encryption.Cipher, log logrus.FieldLogger, opts Options) *Service {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:   store,
		cipher:  cipher,
		log:     log.WithField("component", "anamnesis"),
		window:  opts.Window,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		signer:  opts.Signer,
		now:     opts.Now,
	}
}

// Mint creates a fresh unbound link for the practitioner.
func (s *Service) Mint(ctx context.Context, accountID string) (*Link, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrMissingParameters
	}

	var (
		token string
		err   error
	)
	if s.signer != nil {
		token, err = s.signer.Mint(accountID)
	} else {
		token, err = newNonce()
	}
	if err != nil {
		return nil, err
	}

	link := &models.AnamnesisLink{
		Token:          token,
		PsychologistID: accountID,
		CreatedAt:      s.now(),
	}
	if err := s.store.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	q := url.Values{}
	q.Set("psicologoId", accountID)
	q.Set("token", token)
	return &Link{
		Token:            token,
		URL:              s.baseURL + "/anamnese?" + q.Encode(),
		ExpiresInMinutes: int(s.window / time.Minute),
	}, nil
}

// Validate authorizes a link access. The first successful call binds the
// origin and timestamp; later calls must come from the same origin within the
// window. Rejections never mutate the stored link.
func (s *Service) Validate(ctx context.Context, accountID, token, origin string) (Decision, error) {
	accountID = strings.TrimSpace(accountID)
	token = strings.TrimSpace(token)
	if accountID == "" || token == "" {
		return Decision{}, ErrMissingParameters
	}

	decision, err := s.validate(ctx, accountID, token, strings.TrimSpace(origin))
	if err != nil {
		return Decision{}, err
	}

	metrics.RecordAnamnesisValidation(decision.Reason)
	s.log.WithFields(logrus.Fields{
		"psychologist_id": accountID,
		"authorized":      decision.Authorized,
		"reason":          decision.Reason,
	}).Info("anamnesis link validated")
	return decision, nil
}

func (s *Service) validate(ctx context.Context, accountID, token, origin string) (Decision, error) {
	if s.signer != nil && !s.signer.Verify(accountID, token) {
		return Decision{Reason: ReasonBadSignature}, nil
	}

	link, err := s.lookup(ctx, token)
	if err != nil {
		return Decision{}, err
	}
	if link != nil && link.PsychologistID != accountID {
		return Decision{Reason: ReasonForeign}, nil
	}

	if link == nil || !link.Bound() {
		now := s.now()
		bound, err := s.store.BindFirstAccess(ctx, accountID, token, origin, now)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to bind link: %w", err)
		}
		if bound {
			return Decision{Authorized: true, Reason: ReasonFirstAccess}, nil
		}
		// Someone else bound it first, or the practitioner does not exist.
		link, err = s.lookup(ctx, token)
		if err != nil {
			return Decision{}, err
		}
		if link == nil || !link.Bound() {
			return Decision{Reason: ReasonUnknown}, nil
		}
		if link.PsychologistID != accountID {
			return Decision{Reason: ReasonForeign}, nil
		}
	}

	return s.evaluate(link, origin), nil
}

func (s *Service) evaluate(link *models.AnamnesisLink, origin string) Decision {
	if *link.OriginAddress != origin {
		return Decision{Reason: ReasonOriginMismatch}
	}
	if s.now().Sub(*link.FirstAccessAt) > s.window {
		return Decision{Reason: ReasonExpired}
	}
	return Decision{Authorized: true, Reason: ReasonWithinWindow}
}

func (s *Service) lookup(ctx context.Context, token string) (*models.AnamnesisLink, error) {
	link, err := s.store.Get(ctx, token)
	if errors.Is(err, ErrLinkNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load link: %w", err)
	}
	return link, nil
}

// Revoke deletes a link so it stops validating immediately.
func (s *Service) Revoke(ctx context.Context, accountID, token string) error {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(token) == "" {
		return ErrMissingParameters
	}
	deleted, err := s.store.Delete(ctx, accountID, token)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if !deleted {
		return ErrLinkNotFound
	}
	return nil
}

// Submit stores the patient's answers and consumes the link. The link is
// checked with the same origin and window rules as Validate, but under the
// row lock that deletes it, so it can be used once. Unlike Validate, Submit
// never creates a link for an unknown token.
func (s *Service) Submit(ctx context.Context, accountID, token, origin, patientName string, answers map[string]string) (*models.AnamnesisResponse, error) {
	accountID = strings.TrimSpace(accountID)
	token = strings.TrimSpace(token)
	origin = strings.TrimSpace(origin)
	if accountID == "" || token == "" {
		return nil, ErrMissingParameters
	}
	if strings.TrimSpace(patientName) == "" || len(answers) == 0 {
		return nil, ErrInvalidAnswers
	}
	if s.signer != nil && !s.signer.Verify(accountID, token) {
		return nil, ErrUnauthorized
	}

	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answers: %w", err)
	}
	encrypted, err := s.cipher.EncryptPHI(ctx, string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt answers: %w", err)
	}

	resp := &models.AnamnesisResponse{
		ID:             uuid.NewString(),
		PsychologistID: accountID,
		PatientName:    strings.TrimSpace(patientName),
		Answers:        encrypted,
		OriginAddress:  origin,
		CreatedAt:      s.now(),
	}
	reason := ReasonUnknown
	consumed, err := s.store.ConsumeLink(ctx, token, resp, func(link *models.AnamnesisLink) bool {
		if !link.Bound() {
			reason = ReasonFirstAccess
			return true
		}
		d := s.evaluate(link, origin)
		reason = d.Reason
		return d.Authorized
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save answers: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"psychologist_id": accountID, "reason": reason})
	if !consumed {
		log.Info("anamnesis submission rejected")
		return nil, ErrUnauthorized
	}
	log.WithField("response_id", resp.ID).Info("anamnesis submitted")
	return resp, nil
}

// Response loads a submitted form with its answers decrypted.
func (s *Service) Response(ctx context.Context, accountID, id string) (*models.AnamnesisResponse, map[string]string, error) {
	resp, err := s.store.GetResponse(ctx, accountID, id)
	if err != nil {
		return nil, nil, err
	}
	plain, err := s.cipher.DecryptPHI(ctx, resp.Answers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt answers: %w", err)
	}
	answers := map[string]string{}
	if err := json.Unmarshal([]byte(plain), &answers); err != nil {
		return nil, nil, fmt.Errorf("failed to decode answers: %w", err)
	}
	resp.Answers = plain
	return resp, answers, nil
}
