package api

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/anamnesis"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/logging"
	"github.com/sirupsen/logrus"
)

// AnamnesisLinkHandler mints (POST) and revokes (DELETE) intake links.
type AnamnesisLinkHandler struct {
	links  *anamnesis.Service
	issuer *auth.Issuer
	log    logrus.FieldLogger
}

func NewAnamnesisLinkHandler(links *anamnesis.Service, issuer *auth.Issuer, log logrus.FieldLogger) *AnamnesisLinkHandler {
	return &AnamnesisLinkHandler{links: links, issuer: issuer, log: log}
}

func (h *AnamnesisLinkHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	claims, err := authenticate(h.issuer, req, auth.CapLinksManage)
	if err != nil {
		return errorResponse(log, err), nil
	}

	switch req.HTTPMethod {
	case http.MethodPost:
		link, err := h.links.Mint(ctx, claims.UserID)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusCreated, link)
	case http.MethodDelete:
		if err := h.links.Revoke(ctx, claims.UserID, query(req, "token")); err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]bool{"success": true})
	}
	return errorResponse(log, errMethodNotAllowed), nil
}

type ValidationResponse struct {
	Authorized bool `json:"autorizado"`
}

// ValidateAnamnesisHandler is the public link check hit by the patient's
// browser before rendering the form.
type ValidateAnamnesisHandler struct {
	links *anamnesis.Service
	log   logrus.FieldLogger
}

func NewValidateAnamnesisHandler(links *anamnesis.Service, log logrus.FieldLogger) *ValidateAnamnesisHandler {
	return &ValidateAnamnesisHandler{links: links, log: log}
}

func (h *ValidateAnamnesisHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodGet {
		return errorResponse(log, errMethodNotAllowed), nil
	}

	decision, err := h.links.Validate(ctx, query(req, "psicologoId"), query(req, "token"), ClientIP(req))
	if err != nil {
		return errorResponse(log, err), nil
	}
	if !decision.Authorized {
		return jsonResponse(http.StatusForbidden, ValidationResponse{Authorized: false})
	}
	return jsonResponse(http.StatusOK, ValidationResponse{Authorized: true})
}

type SubmitAnamnesisRequest struct {
	PsychologistID string            `json:"psicologoId"`
	Token          string            `json:"token"`
	PatientName    string            `json:"nomePaciente"`
	Answers        map[string]string `json:"respostas"`
}

type SubmitAnamnesisHandler struct {
	links *anamnesis.Service
	log   logrus.FieldLogger
}

func NewSubmitAnamnesisHandler(links *anamnesis.Service, log logrus.FieldLogger) *SubmitAnamnesisHandler {
	return &SubmitAnamnesisHandler{links: links, log: log}
}

func (h *SubmitAnamnesisHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodPost {
		return errorResponse(log, errMethodNotAllowed), nil
	}

	var in SubmitAnamnesisRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorResponse(log, err), nil
	}

	resp, err := h.links.Submit(ctx, in.PsychologistID, in.Token, ClientIP(req), in.PatientName, in.Answers)
	if err != nil {
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusCreated, map[string]string{"id": resp.ID})
}
