package consultations

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

const (
	MinDuration = 15
	MaxDuration = 240
)

var (
	ErrInvalidInput = errors.New("invalid consultation")
	ErrOverlap      = errors.New("consultation overlaps an existing one")
)

type Store interface {
	// Create inserts c unless it overlaps another consultation of the same
	// practitioner, in which case it returns ErrOverlap.
	Create(ctx context.Context, c *models.Consultation) error
	ListFrom(ctx context.Context, psychologistID string, from time.Time) ([]models.Consultation, error)
}

type PatientLookup interface {
	Get(ctx context.Context, psychologistID, id string) (*models.Patient, error)
}

type ScheduleInput struct {
	PatientID       string    `json:"pacienteId"`
	StartsAt        time.Time `json:"startsAt"`
	DurationMinutes int       `json:"durationMinutes"`
	Notes           string    `json:"notes"`
}

type Service struct {
	store    Store
	patients PatientLookup
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Store, patients PatientLookup, log logrus.FieldLogger) *Service {
	return &Service{store: store, patients: patients, log: log.WithField("component", "consultations"), now: time.Now}
}

func (s *Service) Schedule(ctx context.Context, psychologistID string, in ScheduleInput) (*models.Consultation, error) {
	if in.PatientID == "" {
		return nil, fmt.Errorf("%w: pacienteId is required", ErrInvalidInput)
	}
	if in.DurationMinutes < MinDuration || in.DurationMinutes > MaxDuration {
		return nil, fmt.Errorf("%w: durationMinutes must be between %d and %d", ErrInvalidInput, MinDuration, MaxDuration)
	}
	if !in.StartsAt.After(s.now()) {
		return nil, fmt.Errorf("%w: startsAt must be in the future", ErrInvalidInput)
	}
	if _, err := s.patients.Get(ctx, psychologistID, in.PatientID); err != nil {
		return nil, err
	}

	c := &models.Consultation{
		ID:              uuid.NewString(),
		PsychologistID:  psychologistID,
		PatientID:       in.PatientID,
		StartsAt:        in.StartsAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		Notes:           strings.TrimSpace(in.Notes),
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"consultation_id": c.ID,
		"patient_id":      c.PatientID,
		"starts_at":       c.StartsAt.Format(time.RFC3339),
	}).Info("consultation scheduled")
	return c, nil
}

// Upcoming lists consultations that have not ended yet.
func (s *Service) Upcoming(ctx context.Context, psychologistID string) ([]models.Consultation, error) {
	now := s.now()
	list, err := s.store.ListFrom(ctx, psychologistID, now.Add(-MaxDuration*time.Minute))
	if err != nil {
		return nil, err
	}
	upcoming := list[:0]
	for _, c := range list {
		if c.EndsAt().After(now) {
			upcoming = append(upcoming, c)
		}
	}
	return upcoming, nil
}

// Overlaps reports whether two consultations share any instant.
func Overlaps(a, b models.Consultation) bool {
	return a.StartsAt.Before(b.EndsAt()) && b.StartsAt.Before(a.EndsAt())
}
