package api

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/models"
	"github.com/psibackend/internal/payments"
	"github.com/sirupsen/logrus"
)

type SavePaymentHandler struct {
	payments *payments.Service
	issuer   *auth.Issuer
	log      logrus.FieldLogger
}

func NewSavePaymentHandler(svc *payments.Service, issuer *auth.Issuer, log logrus.FieldLogger) *SavePaymentHandler {
	return &SavePaymentHandler{payments: svc, issuer: issuer, log: log}
}

func (h *SavePaymentHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	if req.HTTPMethod != http.MethodPost {
		return errorResponse(log, errMethodNotAllowed), nil
	}
	claims, err := authenticate(h.issuer, req, auth.CapPaymentsCreate)
	if err != nil {
		return errorResponse(log, err), nil
	}

	var in payments.SaveInput
	if err := decodeBody(req.Body, &in); err != nil {
		return errorResponse(log, err), nil
	}
	p, err := h.payments.Save(ctx, claims.UserID, in)
	if err != nil {
		return errorResponse(log, err), nil
	}
	return jsonResponse(http.StatusCreated, p)
}

type PaymentStatusUpdate struct {
	PaymentID string                `json:"paymentId"`
	Status    models.PurchaseStatus `json:"status"`
}

type PaymentStatusResponse struct {
	PaymentID string                `json:"paymentId"`
	Status    models.PurchaseStatus `json:"status"`
}

// PaymentStatusHandler lets buyers poll their purchase (GET ?paymentId) and
// the payment confirmation flow settle it (PUT).
type PaymentStatusHandler struct {
	payments *payments.Service
	issuer   *auth.Issuer
	log      logrus.FieldLogger
}

func NewPaymentStatusHandler(svc *payments.Service, issuer *auth.Issuer, log logrus.FieldLogger) *PaymentStatusHandler {
	return &PaymentStatusHandler{payments: svc, issuer: issuer, log: log}
}

func (h *PaymentStatusHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)

	switch req.HTTPMethod {
	case http.MethodGet:
		claims, err := authenticate(h.issuer, req, auth.CapPaymentsCreate)
		if err != nil {
			return errorResponse(log, err), nil
		}
		paymentID := query(req, "paymentId")
		status, err := h.payments.Status(ctx, claims.UserID, paymentID)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, PaymentStatusResponse{PaymentID: paymentID, Status: status})

	case http.MethodPut:
		if _, err := authenticate(h.issuer, req, auth.CapPaymentsConfirm); err != nil {
			return errorResponse(log, err), nil
		}
		var in PaymentStatusUpdate
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		p, err := h.payments.UpdateStatus(ctx, in.PaymentID, in.Status)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, PaymentStatusResponse{PaymentID: p.PaymentID, Status: p.Status})
	}
	return errorResponse(log, errMethodNotAllowed), nil
}
