package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/psibackend/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

var (
	ErrInvalidInput       = errors.New("invalid account data")
	ErrDuplicate          = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("account not found")
)

type Store interface {
	Create(ctx context.Context, acc *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Get(ctx context.Context, id string) (*models.Account, error)
}

type RegisterInput struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	CRP      string      `json:"crp"`
	CPF      string      `json:"cpf"`
	Role     models.Role `json:"role,omitempty"`
}

type Service struct {
	store Store
	log   logrus.FieldLogger
	cost  int
}

func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log.WithField("component", "accounts"), cost: bcrypt.DefaultCost}
}

func (in *RegisterInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.CRP = strings.TrimSpace(in.CRP)
	in.CPF = digits(in.CPF)

	var problems []string
	if in.Name == "" {
		problems = append(problems, "name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil || in.Email == "" {
		problems = append(problems, "email is invalid")
	}
	if len(in.Password) < minPasswordLength {
		problems = append(problems, fmt.Sprintf("password must have at least %d characters", minPasswordLength))
	}
	if len(in.CPF) != 11 {
		problems = append(problems, "cpf must have 11 digits")
	}
	if in.Role == "" {
		in.Role = models.RolePsychologist
	}
	if !validRole(in.Role) {
		problems = append(problems, "role is invalid")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Register creates an account with a bcrypt-hashed password and a zero
// credit balance.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("error processing password: %w", err)
	}

	zero := "0"
	acc := &models.Account{
		Name:     in.Name,
		Email:    in.Email,
		Password: string(hashed),
		CRP:      in.CRP,
		CPF:      in.CPF,
		Role:     in.Role,
		Credits:  &zero,
	}
	if err := s.store.Create(ctx, acc); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"account_id": acc.ID, "role": acc.Role}).Info("account registered")
	return acc, nil
}

// Authenticate checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.Account, error) {
	acc, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Account, error) {
	return s.store.Get(ctx, id)
}

func validRole(r models.Role) bool {
	switch r {
	case models.RoleAdmin, models.RolePsychologist, models.RoleCommon, models.RoleAdminPsychologist:
		return true
	}
	return false
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
