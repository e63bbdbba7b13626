package models

import (
	"time"
)

type Patient struct {
	ID             string     `json:"id" db:"id"`
	PsychologistID string     `json:"psychologist_id" db:"psychologist_id"`
	Name           string     `json:"name" db:"name"`
	Email          string     `json:"email,omitempty" db:"email"`
	Phone          string     `json:"phone,omitempty" db:"phone"`
	CPF            string     `json:"cpf,omitempty" db:"cpf"`
	BirthDate      *time.Time `json:"birth_date,omitempty" db:"birth_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// AnamnesisLink is the temporary intake-form access token. OriginAddress and
// FirstAccessAt stay nil until the first successful validation.
type AnamnesisLink struct {
	Token          string     `json:"token" db:"token"`
	PsychologistID string     `json:"psychologist_id" db:"psychologist_id"`
	OriginAddress  *string    `json:"origin_address,omitempty" db:"origin_address"`
	FirstAccessAt  *time.Time `json:"first_access_at,omitempty" db:"first_access_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Bound reports whether the link has already been claimed by a first access.
func (l *AnamnesisLink) Bound() bool {
	return l.OriginAddress != nil && l.FirstAccessAt != nil
}

type AnamnesisResponse struct {
	ID             string    `json:"id" db:"id"`
	PsychologistID string    `json:"psychologist_id" db:"psychologist_id"`
	PatientName    string    `json:"patient_name" db:"patient_name"`
	Answers        string    `json:"answers" db:"answers"` // PHI - encrypted at rest
	OriginAddress  string    `json:"-" db:"origin_address"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ClinicalRecord is a prontuario entry for a patient.
type ClinicalRecord struct {
	ID             string    `json:"id" db:"id"`
	PatientID      string    `json:"patient_id" db:"patient_id"`
	PsychologistID string    `json:"psychologist_id" db:"psychologist_id"`
	Title          string    `json:"title" db:"title"`
	Content        string    `json:"content" db:"content"` // PHI - encrypted at rest
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

type Consultation struct {
	ID              string    `json:"id" db:"id"`
	PsychologistID  string    `json:"psychologist_id" db:"psychologist_id"`
	PatientID       string    `json:"patient_id" db:"patient_id"`
	StartsAt        time.Time `json:"starts_at" db:"starts_at"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	Notes           string    `json:"notes,omitempty" db:"notes"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

func (c *Consultation) EndsAt() time.Time {
	return c.StartsAt.Add(time.Duration(c.DurationMinutes) * time.Minute)
}
