package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/records"
	"github.com/psibackend/internal/storage"
	"github.com/sirupsen/logrus"
)

type DocumentStore interface {
	Upload(ctx context.Context, psychologistID, patientID string, file io.Reader, size int64, contentType string) (*storage.StoredDocument, error)
	PresignedURL(ctx context.Context, key string) (string, error)
}

type DocumentUpload struct {
	PatientID   string `json:"pacienteId"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"` // base64
}

// PatientDocumentHandler uploads patient attachments (POST) and hands out
// short-lived download links for them (GET ?key).
type PatientDocumentHandler struct {
	store    DocumentStore
	patients records.PatientLookup
	issuer   *auth.Issuer
	log      logrus.FieldLogger
}

func NewPatientDocumentHandler(store DocumentStore, patients records.PatientLookup, issuer *auth.Issuer, log logrus.FieldLogger) *PatientDocumentHandler {
	return &PatientDocumentHandler{store: store, patients: patients, issuer: issuer, log: log}
}

func (h *PatientDocumentHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	claims, err := authenticate(h.issuer, req, auth.CapRecordsManage)
	if err != nil {
		return errorResponse(log, err), nil
	}
	if h.store == nil {
		return errorResponse(log, fmt.Errorf("%w: object storage", errNotConfigured)), nil
	}

	switch req.HTTPMethod {
	case http.MethodPost:
		var in DocumentUpload
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		content, err := base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			return errorResponse(log, fmt.Errorf("%w: content must be base64", errInvalidBody)), nil
		}
		if _, err := storage.Validate(claims.UserID, in.PatientID, in.ContentType, int64(len(content))); err != nil {
			return errorResponse(log, err), nil
		}
		if _, err := h.patients.Get(ctx, claims.UserID, in.PatientID); err != nil {
			return errorResponse(log, err), nil
		}

		doc, err := h.store.Upload(ctx, claims.UserID, in.PatientID, bytes.NewReader(content), int64(len(content)), in.ContentType)
		if err != nil {
			return errorResponse(log, err), nil
		}
		log.WithFields(logrus.Fields{"patient_id": in.PatientID, "key": doc.Key, "size": doc.Size}).Info("patient document uploaded")
		return jsonResponse(http.StatusCreated, doc)

	case http.MethodGet:
		key := query(req, "key")
		if key == "" {
			return errorResponse(log, fmt.Errorf("%w: key", errMissingParameter)), nil
		}
		if !storage.OwnedBy(key, claims.UserID) {
			return errorResponse(log, auth.ErrForbidden), nil
		}
		u, err := h.store.PresignedURL(ctx, key)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]string{"key": key, "url": u})
	}
	return errorResponse(log, errMethodNotAllowed), nil
}
