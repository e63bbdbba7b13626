package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/psibackend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	token, err := issuer.GenerateToken("p1", models.RolePsychologist)
	require.NoError(t, err)

	claims, err := issuer.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.UserID)
	assert.Equal(t, models.RolePsychologist, claims.Role)

	claims, err = issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.UserID)
}

func TestValidateTokenRejectsExpiredAndForeign(t *testing.T) {
	issued := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	issuer := NewIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return issued }

	token, err := issuer.GenerateToken("p1", models.RolePsychologist)
	require.NoError(t, err)

	issuer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = issuer.ValidateToken(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	other := NewIssuer("other-secret", time.Hour)
	foreign, err := other.GenerateToken("p1", models.RoleAdmin)
	require.NoError(t, err)
	_, err = NewIssuer("secret", time.Hour).ValidateToken(foreign)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestValidateTokenMissingHeader(t *testing.T) {
	_, err := NewIssuer("secret", time.Hour).ValidateToken("  ")
	assert.Equal(t, ErrMissingToken, err)
}

func TestAuthorizeCapabilityTable(t *testing.T) {
	psy := &Claims{UserID: "p1", Role: models.RolePsychologist}
	admin := &Claims{UserID: "a1", Role: models.RoleAdmin}
	both := &Claims{UserID: "a2", Role: models.RoleAdminPsychologist}
	common := &Claims{UserID: "c1", Role: models.RoleCommon}

	assert.NoError(t, Authorize(psy, CapDocumentsGenerate))
	assert.ErrorIs(t, Authorize(psy, CapPaymentsConfirm), ErrForbidden)
	assert.ErrorIs(t, Authorize(psy, CapCreditsReadAny), ErrForbidden)

	assert.NoError(t, Authorize(admin, CapPaymentsConfirm))
	assert.ErrorIs(t, Authorize(admin, CapRecordsManage), ErrForbidden)

	assert.NoError(t, Authorize(both, CapRecordsManage))
	assert.NoError(t, Authorize(both, CapPaymentsConfirm))

	assert.NoError(t, Authorize(common, CapSessionsJoin))
	assert.ErrorIs(t, Authorize(common, CapLinksManage), ErrForbidden)

	assert.ErrorIs(t, Authorize(nil, CapSessionsJoin), ErrForbidden)
	assert.ErrorIs(t, Authorize(&Claims{Role: "ROOT"}, CapSessionsJoin), ErrForbidden)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(models.RoleCommon))
	assert.False(t, ValidRole("ROOT"))
}
