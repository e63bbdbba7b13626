package consultations

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/models"
	"github.com/psibackend/internal/patients"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type ownedPatients map[string]string

func (o ownedPatients) Get(_ context.Context, psychologistID, id string) (*models.Patient, error) {
	if o[id] != psychologistID {
		return nil, patients.ErrNotFound
	}
	return &models.Patient{ID: id, PsychologistID: psychologistID}, nil
}

// memStore applies the same overlap rule as the SQL statement.
type memStore struct {
	list []models.Consultation
}

func (m *memStore) Create(_ context.Context, c *models.Consultation) error {
	for _, existing := range m.list {
		if existing.PsychologistID == c.PsychologistID && Overlaps(existing, *c) {
			return ErrOverlap
		}
	}
	m.list = append(m.list, *c)
	return nil
}

func (m *memStore) ListFrom(_ context.Context, psychologistID string, from time.Time) ([]models.Consultation, error) {
	var out []models.Consultation
	for _, c := range m.list {
		if c.PsychologistID == psychologistID && !c.StartsAt.Before(from) {
			out = append(out, c)
		}
	}
	return out, nil
}

func newTestService() (*Service, *memStore) {
	store := &memStore{}
	svc := NewService(store, ownedPatients{"pt1": "p1", "pt2": "p1"}, logging.Discard())
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

func TestScheduleValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name string
		in   ScheduleInput
		want error
	}{
		{"missing patient", ScheduleInput{StartsAt: future, DurationMinutes: 50}, ErrInvalidInput},
		{"too short", ScheduleInput{PatientID: "pt1", StartsAt: future, DurationMinutes: 10}, ErrInvalidInput},
		{"too long", ScheduleInput{PatientID: "pt1", StartsAt: future, DurationMinutes: 241}, ErrInvalidInput},
		{"in the past", ScheduleInput{PatientID: "pt1", StartsAt: fixedNow.Add(-time.Minute), DurationMinutes: 50}, ErrInvalidInput},
		{"foreign patient", ScheduleInput{PatientID: "pt9", StartsAt: future, DurationMinutes: 50}, patients.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Schedule(ctx, "p1", tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestScheduleRejectsOverlap(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	start := fixedNow.Add(2 * time.Hour)

	_, err := svc.Schedule(ctx, "p1", ScheduleInput{PatientID: "pt1", StartsAt: start, DurationMinutes: 50})
	require.NoError(t, err)

	_, err = svc.Schedule(ctx, "p1", ScheduleInput{PatientID: "pt2", StartsAt: start.Add(30 * time.Minute), DurationMinutes: 50})
	assert.ErrorIs(t, err, ErrOverlap)

	// Back to back is fine.
	_, err = svc.Schedule(ctx, "p1", ScheduleInput{PatientID: "pt2", StartsAt: start.Add(50 * time.Minute), DurationMinutes: 50})
	assert.NoError(t, err)
}

func TestUpcomingSkipsFinished(t *testing.T) {
	svc, store := newTestService()
	store.list = []models.Consultation{
		{ID: "done", PsychologistID: "p1", StartsAt: fixedNow.Add(-2 * time.Hour), DurationMinutes: 50},
		{ID: "running", PsychologistID: "p1", StartsAt: fixedNow.Add(-20 * time.Minute), DurationMinutes: 50},
		{ID: "next", PsychologistID: "p1", StartsAt: fixedNow.Add(time.Hour), DurationMinutes: 50},
		{ID: "other", PsychologistID: "p2", StartsAt: fixedNow.Add(time.Hour), DurationMinutes: 50},
	}

	list, err := svc.Upcoming(context.Background(), "p1")
	require.NoError(t, err)
	var ids []string
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"running", "next"}, ids)
}

func TestPostgresCreateOverlapWhenNoRow(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	store := NewPostgresStore(sqlx.NewDb(conn, "sqlmock"))

	c := &models.Consultation{ID: "c1", PsychologistID: "p1", PatientID: "pt1", StartsAt: fixedNow, DurationMinutes: 50}
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO consultations .* WHERE NOT EXISTS`).
		WithArgs("c1", "p1", "pt1", fixedNow, 50, "", fixedNow.Add(50*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	mock.ExpectRollback()

	assert.ErrorIs(t, store.Create(context.Background(), c), ErrOverlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateLocksPractitionerScheduleBeforeInsert(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	store := NewPostgresStore(sqlx.NewDb(conn, "sqlmock"))

	c := &models.Consultation{ID: "c1", PsychologistID: "p1", PatientID: "pt1", StartsAt: fixedNow, DurationMinutes: 50}
	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO consultations`).
		WithArgs("c1", "p1", "pt1", fixedNow, 50, "", fixedNow.Add(50*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(fixedNow))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), c))
	assert.Equal(t, fixedNow, c.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
