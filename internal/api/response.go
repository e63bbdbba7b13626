package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/accounts"
	"github.com/psibackend/internal/anamnesis"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/cache"
	"github.com/psibackend/internal/consultations"
	"github.com/psibackend/internal/credits"
	"github.com/psibackend/internal/db"
	"github.com/psibackend/internal/idempotency"
	"github.com/psibackend/internal/llm"
	"github.com/psibackend/internal/patients"
	"github.com/psibackend/internal/payments"
	"github.com/psibackend/internal/records"
	"github.com/psibackend/internal/storage"
	"github.com/sirupsen/logrus"
)

var (
	errInvalidBody      = errors.New("invalid JSON in request body")
	errMissingParameter = errors.New("missing required parameter")
	errNotConfigured    = errors.New("component not configured")
	errMethodNotAllowed = errors.New("method not allowed")
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

var jsonHeaders = map[string]string{
	"Content-Type":                "application/json",
	"Access-Control-Allow-Origin": "*",
}

func createErrorResponse(statusCode int, code, message, details string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    jsonHeaders,
		Body:       string(body),
	}
}

func jsonResponse(statusCode int, v interface{}) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return createErrorResponse(http.StatusInternalServerError, "SERIALIZATION_ERROR", "Failed to serialize response", ""), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: statusCode,
		Headers:    jsonHeaders,
		Body:       string(body),
	}, nil
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// statusFor is checked in order with errors.Is. Anything unmatched is a 500.
var statusFor = []errorMapping{
	{errInvalidBody, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON in request body"},
	{errMissingParameter, http.StatusBadRequest, "MISSING_PARAMETERS", "Missing required parameters"},
	{anamnesis.ErrMissingParameters, http.StatusBadRequest, "MISSING_PARAMETERS", "Missing required parameters"},
	{anamnesis.ErrInvalidAnswers, http.StatusBadRequest, "VALIDATION_ERROR", "Patient name and answers are required"},
	{accounts.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid account data"},
	{patients.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid patient data"},
	{records.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid clinical record"},
	{consultations.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid consultation"},
	{payments.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid payment"},
	{credits.ErrInvalidQuantity, http.StatusBadRequest, "VALIDATION_ERROR", "Quantity must be positive"},
	{llm.ErrInvalidRequest, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid document request"},
	{llm.ErrUnknownTemplate, http.StatusBadRequest, "UNKNOWN_TEMPLATE", "Unknown document template"},
	{cache.ErrEmptyChunk, http.StatusBadRequest, "VALIDATION_ERROR", "Transcript chunk is empty"},
	{cache.ErrInvalidPeer, http.StatusBadRequest, "VALIDATION_ERROR", "Room, participant and peer id are required"},
	{storage.ErrMissingOwner, http.StatusBadRequest, "VALIDATION_ERROR", "Patient is required"},
	{storage.ErrEmptyFile, http.StatusBadRequest, "VALIDATION_ERROR", "File is empty"},
	{storage.ErrInvalidFileType, http.StatusBadRequest, "INVALID_FILE_TYPE", "Only PDF, JPEG and PNG files are allowed"},

	{auth.ErrMissingToken, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing authentication token"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing authentication token"},
	{accounts.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"},

	{credits.ErrInsufficientCredits, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "Insufficient credits"},

	{auth.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Not allowed"},
	{anamnesis.ErrUnauthorized, http.StatusForbidden, "LINK_UNAUTHORIZED", "Link is not authorized"},

	{credits.ErrAccountNotFound, http.StatusNotFound, "NOT_FOUND", "Account not found"},
	{accounts.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Account not found"},
	{patients.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Patient not found"},
	{records.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Clinical record not found"},
	{payments.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Payment not found"},
	{anamnesis.ErrLinkNotFound, http.StatusNotFound, "NOT_FOUND", "Link not found"},
	{anamnesis.ErrResponseNotFound, http.StatusNotFound, "NOT_FOUND", "Anamnesis response not found"},

	{errMethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed"},

	{accounts.ErrDuplicate, http.StatusConflict, "DUPLICATE", "Account already exists"},
	{patients.ErrDuplicate, http.StatusConflict, "DUPLICATE", "Patient already registered"},
	{consultations.ErrOverlap, http.StatusConflict, "SCHEDULE_CONFLICT", "Consultation overlaps an existing one"},
	{payments.ErrConflict, http.StatusConflict, "DUPLICATE", "Payment already registered"},
	{payments.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION", "Payment already settled"},
	{idempotency.ErrConflict, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key reused with a different request"},
	{idempotency.ErrInProgress, http.StatusConflict, "IN_PROGRESS", "Request is already being processed"},

	{cache.ErrTranscriptTooLarge, http.StatusRequestEntityTooLarge, "TRANSCRIPT_TOO_LARGE", "Transcript exceeds maximum size"},
	{storage.ErrFileTooBig, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File size exceeds 10MB limit"},

	{llm.ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR", "Document generation failed, try again later"},
	{errNotConfigured, http.StatusServiceUnavailable, "NOT_CONFIGURED", "Feature not available"},
}

// errorResponse maps err to a JSON error. Client errors carry the message as
// details; server errors are logged and answered generically.
func errorResponse(log logrus.FieldLogger, err error) events.APIGatewayProxyResponse {
	for _, m := range statusFor {
		if !errors.Is(err, m.err) {
			continue
		}
		details := ""
		if m.status < http.StatusInternalServerError {
			details = err.Error()
		} else {
			log.WithError(err).Error(m.message)
		}
		return createErrorResponse(m.status, m.code, m.message, details)
	}

	if db.IsUniqueViolation(err) {
		return createErrorResponse(http.StatusConflict, "DUPLICATE", "Resource already exists", "")
	}

	log.WithError(err).Error("request failed")
	return createErrorResponse(http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "")
}

func decodeBody(body string, v interface{}) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}
