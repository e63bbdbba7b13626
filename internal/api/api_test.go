package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/lib/pq"
	"github.com/psibackend/internal/anamnesis"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/credits"
	"github.com/psibackend/internal/encryption"
	"github.com/psibackend/internal/llm"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/models"
	"github.com/psibackend/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func bearer(t *testing.T, issuer *auth.Issuer, userID string, role models.Role) map[string]string {
	t.Helper()
	token, err := issuer.GenerateToken(userID, role)
	require.NoError(t, err)
	return map[string]string{"authorization": "Bearer " + token}
}

func decode(t *testing.T, resp events.APIGatewayProxyResponse, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(resp.Body), v))
}

// linkStore keeps anamnesis links in memory with the same binding rule as
// the Postgres upsert.
type linkStore struct {
	links     map[string]*models.AnamnesisLink
	responses map[string]*models.AnamnesisResponse
}

func newLinkStore() *linkStore {
	return &linkStore{links: map[string]*models.AnamnesisLink{}, responses: map[string]*models.AnamnesisResponse{}}
}

func (s *linkStore) Create(_ context.Context, l *models.AnamnesisLink) error {
	s.links[l.Token] = l
	return nil
}

func (s *linkStore) Get(_ context.Context, token string) (*models.AnamnesisLink, error) {
	l, ok := s.links[token]
	if !ok {
		return nil, anamnesis.ErrLinkNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *linkStore) BindFirstAccess(_ context.Context, accountID, token, origin string, at time.Time) (bool, error) {
	l, ok := s.links[token]
	if !ok {
		s.links[token] = &models.AnamnesisLink{Token: token, PsychologistID: accountID, OriginAddress: &origin, FirstAccessAt: &at}
		return true, nil
	}
	if l.PsychologistID != accountID || l.FirstAccessAt != nil {
		return false, nil
	}
	l.OriginAddress, l.FirstAccessAt = &origin, &at
	return true, nil
}

func (s *linkStore) Delete(_ context.Context, accountID, token string) (bool, error) {
	l, ok := s.links[token]
	if !ok || l.PsychologistID != accountID {
		return false, nil
	}
	delete(s.links, token)
	return true, nil
}

func (s *linkStore) ConsumeLink(_ context.Context, token string, r *models.AnamnesisResponse, authorize func(*models.AnamnesisLink) bool) (bool, error) {
	l, ok := s.links[token]
	if !ok || l.PsychologistID != r.PsychologistID {
		return false, nil
	}
	cp := *l
	if !authorize(&cp) {
		return false, nil
	}
	delete(s.links, token)
	saved := *r
	s.responses[r.ID] = &saved
	return true, nil
}

func (s *linkStore) GetResponse(_ context.Context, accountID, id string) (*models.AnamnesisResponse, error) {
	r, ok := s.responses[id]
	if !ok || r.PsychologistID != accountID {
		return nil, anamnesis.ErrResponseNotFound
	}
	cp := *r
	return &cp, nil
}

func newLinks(store *linkStore) *anamnesis.Service {
	return anamnesis.NewService(store, encryption.NoopCipher{}, logging.Discard(), anamnesis.Options{Window: 30 * time.Minute})
}

func validationRequest(params map[string]string, ip string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  "/api/validar-anamnese",
		QueryStringParameters: params,
	}
	req.RequestContext.Identity.SourceIP = ip
	return req
}

func TestValidateAnamnesisBindsFirstOrigin(t *testing.T) {
	h := NewValidateAnamnesisHandler(newLinks(newLinkStore()), logging.Discard())
	ctx := context.Background()
	params := map[string]string{"psicologoId": "p1", "token": "abc"}

	resp, err := h.Handle(ctx, validationRequest(params, "1.1.1.1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var v map[string]bool
	decode(t, resp, &v)
	assert.Equal(t, map[string]bool{"autorizado": true}, v)

	resp, err = h.Handle(ctx, validationRequest(params, "2.2.2.2"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	decode(t, resp, &v)
	assert.Equal(t, map[string]bool{"autorizado": false}, v)

	// The original address is still accepted.
	resp, err = h.Handle(ctx, validationRequest(params, "1.1.1.1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = h.Handle(ctx, validationRequest(map[string]string{"token": "abc"}, "1.1.1.1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e ErrorResponse
	decode(t, resp, &e)
	assert.Equal(t, "MISSING_PARAMETERS", e.Code)
}

func TestValidateAnamnesisUsesForwardedFor(t *testing.T) {
	h := NewValidateAnamnesisHandler(newLinks(newLinkStore()), logging.Discard())
	params := map[string]string{"psicologoId": "p1", "token": "abc"}

	first := validationRequest(params, "10.0.0.1")
	first.Headers = map[string]string{"X-Forwarded-For": "1.1.1.1, 10.0.0.1"}
	resp, err := h.Handle(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Same proxy, different client.
	second := validationRequest(params, "10.0.0.1")
	second.Headers = map[string]string{"x-forwarded-for": "2.2.2.2"}
	resp, err = h.Handle(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAnamnesisLinkMintSubmitRevoke(t *testing.T) {
	store := newLinkStore()
	links := newLinks(store)
	issuer := auth.NewIssuer(testSecret, time.Hour)
	linkHandler := NewAnamnesisLinkHandler(links, issuer, logging.Discard())
	submit := NewSubmitAnamnesisHandler(links, logging.Discard())
	ctx := context.Background()

	resp, err := linkHandler.Handle(ctx, events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = linkHandler.Handle(ctx, events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Headers:    bearer(t, issuer, "p1", models.RoleCommon),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = linkHandler.Handle(ctx, events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Headers:    bearer(t, issuer, "p1", models.RolePsychologist),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var link anamnesis.Link
	decode(t, resp, &link)
	assert.Contains(t, link.URL, "psicologoId=p1")

	body, _ := json.Marshal(SubmitAnamnesisRequest{
		PsychologistID: "p1",
		Token:          link.Token,
		PatientName:    "Maria",
		Answers:        map[string]string{"queixa": "insônia"},
	})
	sub := events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost, Body: string(body)}
	sub.RequestContext.Identity.SourceIP = "1.1.1.1"
	resp, err = submit.Handle(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, store.responses, 1)
	assert.Empty(t, store.links)

	resp, err = linkHandler.Handle(ctx, events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodDelete,
		Headers:               bearer(t, issuer, "p1", models.RolePsychologist),
		QueryStringParameters: map[string]string{"token": link.Token},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type fixedBalances map[string]int64

func (f fixedBalances) Balance(_ context.Context, id string) (int64, error) {
	b, ok := f[id]
	if !ok {
		return 0, credits.ErrAccountNotFound
	}
	return b, nil
}

func TestCreditsBalanceHandler(t *testing.T) {
	issuer := auth.NewIssuer(testSecret, time.Hour)
	h := NewCreditsBalanceHandler(fixedBalances{"p1": 5, "p2": 0}, issuer, logging.Discard())
	ctx := context.Background()

	get := func(headers map[string]string, userID string) events.APIGatewayProxyResponse {
		req := events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Headers: headers}
		if userID != "" {
			req.QueryStringParameters = map[string]string{"userId": userID}
		}
		resp, err := h.Handle(ctx, req)
		require.NoError(t, err)
		return resp
	}

	resp := get(bearer(t, issuer, "p1", models.RolePsychologist), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b BalanceResponse
	decode(t, resp, &b)
	assert.Equal(t, BalanceResponse{UserID: "p1", Credits: 5}, b)

	resp = get(bearer(t, issuer, "p1", models.RolePsychologist), "p2")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = get(bearer(t, issuer, "admin", models.RoleAdmin), "p2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(bearer(t, issuer, "admin", models.RoleAdmin), "ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(map[string]string{"Authorization": "Bearer garbage"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

type purchaseStore struct {
	rows map[string]models.Purchase
}

func (s *purchaseStore) Insert(_ context.Context, p *models.Purchase) (bool, error) {
	if _, ok := s.rows[p.PaymentID]; ok {
		return false, nil
	}
	s.rows[p.PaymentID] = *p
	return true, nil
}

func (s *purchaseStore) Get(_ context.Context, id string) (*models.Purchase, error) {
	p, ok := s.rows[id]
	if !ok {
		return nil, payments.ErrNotFound
	}
	return &p, nil
}

func (s *purchaseStore) Transition(_ context.Context, id string, status models.PurchaseStatus) (*models.Purchase, bool, error) {
	p := s.rows[id]
	if p.Status == models.PurchasePaid {
		return &p, false, nil
	}
	p.Status = status
	s.rows[id] = p
	return &p, true, nil
}

func (s *purchaseStore) Reset(_ context.Context, id string, status models.PurchaseStatus) error {
	p := s.rows[id]
	p.Status = status
	s.rows[id] = p
	return nil
}

type creditSink map[string]int64

func (c creditSink) Credit(_ context.Context, id string, q int64, _, _ string) (int64, error) {
	c[id] += q
	return c[id], nil
}

type passthrough struct{}

func (passthrough) Process(_ context.Context, _, _, _, _ string, out interface{}, handler func() (interface{}, error)) error {
	res, err := handler()
	if err != nil {
		return err
	}
	b, _ := json.Marshal(res)
	return json.Unmarshal(b, out)
}

func TestPaymentRoundTrip(t *testing.T) {
	issuer := auth.NewIssuer(testSecret, time.Hour)
	sink := creditSink{}
	svc := payments.NewService(&purchaseStore{rows: map[string]models.Purchase{}}, sink, passthrough{}, logging.Discard())
	save := NewSavePaymentHandler(svc, issuer, logging.Discard())
	status := NewPaymentStatusHandler(svc, issuer, logging.Discard())
	ctx := context.Background()
	buyer := bearer(t, issuer, "p1", models.RolePsychologist)

	resp, err := save.Handle(ctx, events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Headers:    buyer,
		Body:       `{"paymentId":"pay-1","credits":10,"amountCents":4990}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	poll := func() models.PurchaseStatus {
		resp, err := status.Handle(ctx, events.APIGatewayProxyRequest{
			HTTPMethod:            http.MethodGet,
			Headers:               buyer,
			QueryStringParameters: map[string]string{"paymentId": "pay-1"},
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var s PaymentStatusResponse
		decode(t, resp, &s)
		return s.Status
	}
	assert.Equal(t, models.PurchasePending, poll())
	assert.Equal(t, models.PurchasePending, poll())

	update := events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPut,
		Headers:    buyer,
		Body:       `{"paymentId":"pay-1","status":"PAID"}`,
	}
	resp, err = status.Handle(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	update.Headers = bearer(t, issuer, "admin", models.RoleAdmin)
	resp, err = status.Handle(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, models.PurchasePaid, poll())
	assert.Equal(t, int64(10), sink["p1"])
}

type fakeGenerator struct {
	got llm.DocumentRequest
	err error
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, req llm.DocumentRequest) (*llm.Document, error) {
	g.got = req
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Document{ID: "d1", Template: req.Template, Text: "ok", CreditsRemaining: 4}, nil
}

type profiles map[string]*models.Account

func (p profiles) Get(_ context.Context, id string) (*models.Account, error) {
	return p[id], nil
}

type memTranscripts map[string]string

func (m memTranscripts) Append(_ context.Context, a, s, chunk string) (int64, error) {
	m[a+s] += chunk + "\n"
	return int64(len(m[a+s])), nil
}

func (m memTranscripts) Get(_ context.Context, a, s string) (string, error) { return m[a+s], nil }

func (m memTranscripts) Clear(_ context.Context, a, s string) error {
	delete(m, a+s)
	return nil
}

func TestPsicochatInsightUsesSessionTranscript(t *testing.T) {
	issuer := auth.NewIssuer(testSecret, time.Hour)
	gen := &fakeGenerator{}
	transcripts := memTranscripts{"p1s1": "Paciente relatou melhora.\n"}
	h := NewPsicochatInsightHandler(gen, profiles{"p1": {ID: "p1", Name: "Dra. Ana", CRP: "06/1"}}, transcripts, issuer, logging.Discard())

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Headers:    bearer(t, issuer, "p1", models.RolePsychologist),
		Body:       `{"patientName":"Maria","sessionId":"s1"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, llm.TemplateProgressNote, gen.got.Template)
	assert.Equal(t, "Dra. Ana", gen.got.PractitionerName)
	assert.Equal(t, "06/1", gen.got.LicenseNumber)
	assert.Equal(t, "Paciente relatou melhora.\n", gen.got.Source)
	assert.Empty(t, transcripts)
}

func TestPsicochatInsightErrorStatuses(t *testing.T) {
	issuer := auth.NewIssuer(testSecret, time.Hour)
	headers := bearer(t, issuer, "p1", models.RolePsychologist)
	body := `{"patientName":"Maria","psychologistName":"Ana","crp":"06/1","transcript":"texto"}`

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient", credits.ErrInsufficientCredits, http.StatusPaymentRequired},
		{"upstream", llm.ErrUpstream, http.StatusBadGateway},
		{"invalid", llm.ErrInvalidRequest, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPsicochatInsightHandler(&fakeGenerator{err: tt.err}, nil, nil, issuer, logging.Discard())
			resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost, Headers: headers, Body: body})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	h := NewPsicochatInsightHandler(&fakeGenerator{}, nil, nil, issuer, logging.Discard())
	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Headers:    headers,
		Body:       `{"patientName":"Maria","sessionId":"s1"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestErrorResponseHidesServerDetails(t *testing.T) {
	resp := errorResponse(logging.Discard(), errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, resp.Body, "connection refused")

	resp = errorResponse(logging.Discard(), &pq.Error{Code: "23505"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = errorResponse(logging.Discard(), credits.ErrInsufficientCredits)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestClientIP(t *testing.T) {
	req := events.APIGatewayProxyRequest{Headers: map[string]string{"X-Forwarded-For": " 1.1.1.1 , 10.0.0.1"}}
	req.RequestContext.Identity.SourceIP = "10.0.0.1"
	assert.Equal(t, "1.1.1.1", ClientIP(req))

	req.Headers = nil
	assert.Equal(t, "10.0.0.1", ClientIP(req))
}
