package api

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/logging"
	"github.com/sirupsen/logrus"
)

type BalanceReader interface {
	Balance(ctx context.Context, accountID string) (int64, error)
}

type BalanceResponse struct {
	UserID  string `json:"userId"`
	Credits int64  `json:"creditos"`
}

// CreditsBalanceHandler answers GET ?userId. Reading another account needs
// credits:read:any.
type CreditsBalanceHandler struct {
	ledger BalanceReader
	issuer *auth.Issuer
	log    logrus.FieldLogger
}

func NewCreditsBalanceHandler(ledger BalanceReader, issuer *auth.Issuer, log logrus.FieldLogger) *CreditsBalanceHandler {
	return &CreditsBalanceHandler{ledger: ledger, issuer: issuer, log: log}
}

func (h *CreditsBalanceHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodGet {
		return errorResponse(log, errMethodNotAllowed), nil
	}
	claims, err := authenticate(h.issuer, req, auth.CapCreditsRead)
	if err != nil {
		return errorResponse(log, err), nil
	}

	userID := query(req, "userId")
	if userID == "" {
		userID = claims.UserID
	}
	if userID != claims.UserID {
		if err := auth.Authorize(claims, auth.CapCreditsReadAny); err != nil {
			return errorResponse(log, err), nil
		}
	}

	balance, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusOK, BalanceResponse{UserID: userID, Credits: balance})
}
