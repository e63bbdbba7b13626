package app

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psibackend/internal/config"
	"github.com/psibackend/internal/logging"
)

type stubHandler struct{}

func (stubHandler) Handle(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{StatusCode: 200}, nil
}

func TestRoutesCoverEveryFunction(t *testing.T) {
	s := stubHandler{}
	a := &App{Handlers: Handlers{
		Register: s, Login: s, AnamnesisLink: s, ValidateAnamnesis: s, SubmitAnamnesis: s,
		Patients: s, ClinicalRecord: s, Consultations: s, PsicochatInsight: s, AnamnesisInsight: s,
		PsicochatTranscript: s, PsicochatPeer: s, PatientDocument: s, CreditsBalance: s,
		SavePayment: s, PaymentStatus: s,
	}}

	routes := a.Routes()
	require.Len(t, routes, 16)

	seen := map[string]bool{}
	for _, r := range routes {
		assert.False(t, seen[r.Path], "duplicate path %s", r.Path)
		seen[r.Path] = true
		assert.NotNil(t, r.Handler, r.Path)
		assert.True(t, strings.HasPrefix(r.Path, "/api/"), r.Path)
		assert.Equal(t, r.Path == "/api/validar-anamnese", r.Limited, r.Path)
	}
}

func TestBuildFailsWithoutDatabase(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	_, err := Build(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
