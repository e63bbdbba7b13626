package records

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/psibackend/internal/encryption"
	"github.com/psibackend/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidInput = errors.New("invalid clinical record")
	ErrNotFound     = errors.New("clinical record not found")
)

// Store persists records with content already encrypted. Every method is
// scoped to the owning practitioner.
type Store interface {
	Create(ctx context.Context, r *models.ClinicalRecord) error
	Get(ctx context.Context, psychologistID, id string) (*models.ClinicalRecord, error)
	ListByPatient(ctx context.Context, psychologistID, patientID string) ([]models.ClinicalRecord, error)
	Update(ctx context.Context, r *models.ClinicalRecord) error
	Delete(ctx context.Context, psychologistID, id string) (bool, error)
}

// PatientLookup confirms a patient belongs to the practitioner.
type PatientLookup interface {
	Get(ctx context.Context, psychologistID, id string) (*models.Patient, error)
}

type Input struct {
	PatientID string `json:"pacienteId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

type Service struct {
	store    Store
	patients PatientLookup
	cipher   encryption.Cipher
	log      logrus.FieldLogger
}

func NewService(store Store, patients PatientLookup, cipher encryption.Cipher, log logrus.FieldLogger) *Service {
	return &Service{store: store, patients: patients, cipher: cipher, log: log.WithField("component", "records")}
}

func (s *Service) Create(ctx context.Context, psychologistID string, in Input) (*models.ClinicalRecord, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.PatientID == "" || in.Title == "" || strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: pacienteId, title and content are required", ErrInvalidInput)
	}
	if _, err := s.patients.Get(ctx, psychologistID, in.PatientID); err != nil {
		return nil, err
	}

	encrypted, err := s.cipher.EncryptPHI(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("error encrypting record: %w", err)
	}

	r := &models.ClinicalRecord{
		ID:             uuid.NewString(),
		PatientID:      in.PatientID,
		PsychologistID: psychologistID,
		Title:          in.Title,
		Content:        encrypted,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"record_id": r.ID, "patient_id": r.PatientID}).Info("clinical record created")
	r.Content = in.Content
	return r, nil
}

func (s *Service) Get(ctx context.Context, psychologistID, id string) (*models.ClinicalRecord, error) {
	r, err := s.store.Get(ctx, psychologistID, id)
	if err != nil {
		return nil, err
	}
	if err := s.decrypt(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) ListByPatient(ctx context.Context, psychologistID, patientID string) ([]models.ClinicalRecord, error) {
	if _, err := s.patients.Get(ctx, psychologistID, patientID); err != nil {
		return nil, err
	}
	list, err := s.store.ListByPatient(ctx, psychologistID, patientID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if err := s.decrypt(ctx, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Update replaces title and content of an existing record.
func (s *Service) Update(ctx context.Context, psychologistID, id string, in Input) (*models.ClinicalRecord, error) {
	r, err := s.store.Get(ctx, psychologistID, id)
	if err != nil {
		return nil, err
	}
	if t := strings.TrimSpace(in.Title); t != "" {
		r.Title = t
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	r.Content, err = s.cipher.EncryptPHI(ctx, in.Content)
	if err != nil {
		return nil, fmt.Errorf("error encrypting record: %w", err)
	}
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}
	r.Content = in.Content
	return r, nil
}

func (s *Service) Delete(ctx context.Context, psychologistID, id string) error {
	ok, err := s.store.Delete(ctx, psychologistID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.log.WithField("record_id", id).Info("clinical record deleted")
	return nil
}

func (s *Service) decrypt(ctx context.Context, r *models.ClinicalRecord) error {
	plain, err := s.cipher.DecryptPHI(ctx, r.Content)
	if err != nil {
		return fmt.Errorf("error decrypting record %s: %w", r.ID, err)
	}
	r.Content = plain
	return nil
}
