package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/anamnesis"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/llm"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/models"
	"github.com/sirupsen/logrus"
)

type Generator interface {
	Generate(ctx context.Context, accountID string, req llm.DocumentRequest) (*llm.Document, error)
}

type ProfileLookup interface {
	Get(ctx context.Context, id string) (*models.Account, error)
}

type Transcripts interface {
	Append(ctx context.Context, accountID, sessionID, chunk string) (int64, error)
	Get(ctx context.Context, accountID, sessionID string) (string, error)
	Clear(ctx context.Context, accountID, sessionID string) error
}

type PsicochatInsightRequest struct {
	Template         string `json:"template"`
	PatientName      string `json:"patientName"`
	PsychologistName string `json:"psychologistName"`
	CRP              string `json:"crp"`
	Transcript       string `json:"transcript"`
	SessionID        string `json:"sessionId"`
}

// PsicochatInsightHandler turns a session transcript into a clinical
// document. Without an inline transcript it reads the accumulated one for
// sessionId.
type PsicochatInsightHandler struct {
	documents   Generator
	profiles    ProfileLookup
	transcripts Transcripts
	issuer      *auth.Issuer
	log         logrus.FieldLogger
}

// NewPsicochatInsightHandler accepts a nil transcripts store when Redis is
// not configured.
func NewPsicochatInsightHandler(docs Generator, profiles ProfileLookup, transcripts Transcripts, issuer *auth.Issuer, log logrus.FieldLogger) *PsicochatInsightHandler {
	return &PsicochatInsightHandler{documents: docs, profiles: profiles, transcripts: transcripts, issuer: issuer, log: log}
}

func (h *PsicochatInsightHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodPost {
		return errorResponse(log, errMethodNotAllowed), nil
	}
	claims, err := authenticate(h.issuer, req, auth.CapDocumentsGenerate)
	if err != nil {
		return errorResponse(log, err), nil
	}

	var in PsicochatInsightRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorResponse(log, err), nil
	}
	if in.Template == "" {
		in.Template = llm.TemplateProgressNote
	}

	source := in.Transcript
	fromSession := false
	if strings.TrimSpace(source) == "" && in.SessionID != "" {
		if h.transcripts == nil {
			return errorResponse(log, fmt.Errorf("%w: transcript store", errNotConfigured)), nil
		}
		if source, err = h.transcripts.Get(ctx, claims.UserID, in.SessionID); err != nil {
			return errorResponse(log, err), nil
		}
		fromSession = true
	}

	docReq := llm.DocumentRequest{
		Template:         in.Template,
		PatientName:      in.PatientName,
		PractitionerName: in.PsychologistName,
		LicenseNumber:    in.CRP,
		Source:           source,
		SourceLabel:      llm.SourceTranscript,
	}
	if err := fillPractitioner(ctx, h.profiles, claims.UserID, &docReq); err != nil {
		return errorResponse(log, err), nil
	}

	doc, err := h.documents.Generate(ctx, claims.UserID, docReq)
	if err != nil {
		return errorResponse(log, err), nil
	}
	if fromSession {
		if err := h.transcripts.Clear(ctx, claims.UserID, in.SessionID); err != nil {
			log.WithError(err).Warn("failed to clear session transcript")
		}
	}
	return jsonResponse(http.StatusOK, doc)
}

type AnamnesisInsightRequest struct {
	ResponseID       string `json:"responseId"`
	Template         string `json:"template"`
	PsychologistName string `json:"psychologistName"`
	CRP              string `json:"crp"`
}

type AnamnesisInsightHandler struct {
	documents Generator
	profiles  ProfileLookup
	links     *anamnesis.Service
	issuer    *auth.Issuer
	log       logrus.FieldLogger
}

func NewAnamnesisInsightHandler(docs Generator, profiles ProfileLookup, links *anamnesis.Service, issuer *auth.Issuer, log logrus.FieldLogger) *AnamnesisInsightHandler {
	return &AnamnesisInsightHandler{documents: docs, profiles: profiles, links: links, issuer: issuer, log: log}
}

func (h *AnamnesisInsightHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodPost {
		return errorResponse(log, errMethodNotAllowed), nil
	}
	claims, err := authenticate(h.issuer, req, auth.CapDocumentsGenerate)
	if err != nil {
		return errorResponse(log, err), nil
	}

	var in AnamnesisInsightRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorResponse(log, err), nil
	}
	if in.ResponseID == "" {
		return errorResponse(log, fmt.Errorf("%w: responseId", anamnesis.ErrMissingParameters)), nil
	}
	if in.Template == "" {
		in.Template = llm.TemplateIntake
	}

	resp, answers, err := h.links.Response(ctx, claims.UserID, in.ResponseID)
	if err != nil {
		return errorResponse(log, err), nil
	}

	docReq := llm.DocumentRequest{
		Template:         in.Template,
		PatientName:      resp.PatientName,
		PractitionerName: in.PsychologistName,
		LicenseNumber:    in.CRP,
		Source:           formatAnswers(answers),
		SourceLabel:      llm.SourceAnswers,
	}
	if err := fillPractitioner(ctx, h.profiles, claims.UserID, &docReq); err != nil {
		return errorResponse(log, err), nil
	}

	doc, err := h.documents.Generate(ctx, claims.UserID, docReq)
	if err != nil {
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusOK, doc)
}

// fillPractitioner defaults the signature fields from the account profile.
func fillPractitioner(ctx context.Context, profiles ProfileLookup, accountID string, r *llm.DocumentRequest) error {
	if profiles == nil || (r.PractitionerName != "" && r.LicenseNumber != "") {
		return nil
	}
	acc, err := profiles.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if r.PractitionerName == "" {
		r.PractitionerName = acc.Name
	}
	if r.LicenseNumber == "" {
		r.LicenseNumber = acc.CRP
	}
	return nil
}

func formatAnswers(answers map[string]string) string {
	questions := make([]string, 0, len(answers))
	for q := range answers {
		questions = append(questions, q)
	}
	sort.Strings(questions)

	var b strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&b, "%s: %s\n", q, answers[q])
	}
	return b.String()
}
