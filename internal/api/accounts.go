package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/accounts"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/models"
	"github.com/sirupsen/logrus"
)

type AuthResponse struct {
	UserID string      `json:"user_id"`
	Token  string      `json:"token"`
	Role   models.Role `json:"role"`
}

type RegisterHandler struct {
	accounts *accounts.Service
	issuer   *auth.Issuer
	log      logrus.FieldLogger
}

func NewRegisterHandler(svc *accounts.Service, issuer *auth.Issuer, log logrus.FieldLogger) *RegisterHandler {
	return &RegisterHandler{accounts: svc, issuer: issuer, log: log}
}

func (h *RegisterHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodPost {
		return errorResponse(log, errMethodNotAllowed), nil
	}

	var in accounts.RegisterInput
	if err := decodeBody(req.Body, &in); err != nil {
		return errorResponse(log, err), nil
	}
	// Administrative roles are granted out of band.
	if in.Role == models.RoleAdmin || in.Role == models.RoleAdminPsychologist {
		return errorResponse(log, fmt.Errorf("%w: role %s cannot self-register", auth.ErrForbidden, in.Role)), nil
	}

	acc, err := h.accounts.Register(ctx, in)
	if err != nil {
		return errorResponse(log, err), nil
	}

	token, err := h.issuer.GenerateToken(acc.ID, acc.Role)
	if err != nil {
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusCreated, AuthResponse{UserID: acc.ID, Token: token, Role: acc.Role})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginHandler struct {
	accounts *accounts.Service
	issuer   *auth.Issuer
	log      logrus.FieldLogger
}

func NewLoginHandler(svc *accounts.Service, issuer *auth.Issuer, log logrus.FieldLogger) *LoginHandler {
	return &LoginHandler{accounts: svc, issuer: issuer, log: log}
}

func (h *LoginHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodPost {
		return errorResponse(log, errMethodNotAllowed), nil
	}

	var in LoginRequest
	if err := decodeBody(req.Body, &in); err != nil {
		return errorResponse(log, err), nil
	}

	acc, err := h.accounts.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		log.WithError(err).Warn("login rejected")
		return errorResponse(log, err), nil
	}

	token, err := h.issuer.GenerateToken(acc.ID, acc.Role)
	if err != nil {
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusOK, AuthResponse{UserID: acc.ID, Token: token, Role: acc.Role})
}
