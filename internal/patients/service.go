package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psibackend/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidInput = errors.New("invalid patient data")
	ErrDuplicate    = errors.New("patient already registered")
	ErrNotFound     = errors.New("patient not found")
)

type Store interface {
	Create(ctx context.Context, p *models.Patient) error
	Get(ctx context.Context, psychologistID, id string) (*models.Patient, error)
	List(ctx context.Context, psychologistID string) ([]models.Patient, error)
}

type CreateInput struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	CPF       string `json:"cpf"`
	BirthDate string `json:"birthDate"` // YYYY-MM-DD
}

type Service struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log.WithField("component", "patients"), now: time.Now}
}

func (s *Service) Create(ctx context.Context, psychologistID string, in CreateInput) (*models.Patient, error) {
	p := &models.Patient{
		ID:             uuid.NewString(),
		PsychologistID: psychologistID,
		Name:           strings.TrimSpace(in.Name),
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:          strings.TrimSpace(in.Phone),
		CPF:            strings.Map(keepDigit, in.CPF),
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if p.CPF != "" && len(p.CPF) != 11 {
		return nil, fmt.Errorf("%w: cpf must have 11 digits", ErrInvalidInput)
	}
	if in.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", in.BirthDate)
		if err != nil {
			return nil, fmt.Errorf("%w: birthDate must be YYYY-MM-DD", ErrInvalidInput)
		}
		if bd.After(s.now()) {
			return nil, fmt.Errorf("%w: birthDate is in the future", ErrInvalidInput)
		}
		p.BirthDate = &bd
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"psychologist_id": psychologistID, "patient_id": p.ID}).Info("patient created")
	return p, nil
}

// Get returns the patient only when it belongs to psychologistID.
func (s *Service) Get(ctx context.Context, psychologistID, id string) (*models.Patient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, psychologistID, id)
}

func (s *Service) List(ctx context.Context, psychologistID string) ([]models.Patient, error) {
	return s.store.List(ctx, psychologistID)
}

func keepDigit(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}
