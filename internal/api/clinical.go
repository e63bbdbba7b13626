package api

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/psibackend/internal/auth"
	"github.com/psibackend/internal/consultations"
	"github.com/psibackend/internal/logging"
	"github.com/psibackend/internal/patients"
	"github.com/psibackend/internal/records"
	"github.com/sirupsen/logrus"
)

type PatientsHandler struct {
	patients *patients.Service
	issuer   *auth.Issuer
	log      logrus.FieldLogger
}

func NewPatientsHandler(svc *patients.Service, issuer *auth.Issuer, log logrus.FieldLogger) *PatientsHandler {
	return &PatientsHandler{patients: svc, issuer: issuer, log: log}
}

func (h *PatientsHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	claims, err := authenticate(h.issuer, req, auth.CapPatientsManage)
	if err != nil {
		return errorResponse(log, err), nil
	}

	switch req.HTTPMethod {
	case http.MethodPost:
		var in patients.CreateInput
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		p, err := h.patients.Create(ctx, claims.UserID, in)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusCreated, p)
	case http.MethodGet:
		if id := query(req, "id"); id != "" {
			p, err := h.patients.Get(ctx, claims.UserID, id)
			if err != nil {
				return errorResponse(log, err), nil
			}
			return jsonResponse(http.StatusOK, p)
		}
		list, err := h.patients.List(ctx, claims.UserID)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, list)
	}
	return errorResponse(log, errMethodNotAllowed), nil
}

// ClinicalRecordHandler serves the prontuario: GET by id or pacienteId, POST,
// PUT ?id and DELETE ?id.
type ClinicalRecordHandler struct {
	records *records.Service
	issuer  *auth.Issuer
	log     logrus.FieldLogger
}

func NewClinicalRecordHandler(svc *records.Service, issuer *auth.Issuer, log logrus.FieldLogger) *ClinicalRecordHandler {
	return &ClinicalRecordHandler{records: svc, issuer: issuer, log: log}
}

func (h *ClinicalRecordHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	claims, err := authenticate(h.issuer, req, auth.CapRecordsManage)
	if err != nil {
		return errorResponse(log, err), nil
	}
	id := query(req, "id")

	switch req.HTTPMethod {
	case http.MethodGet:
		if id != "" {
			r, err := h.records.Get(ctx, claims.UserID, id)
			if err != nil {
				return errorResponse(log, err), nil
			}
			return jsonResponse(http.StatusOK, r)
		}
		patientID := query(req, "pacienteId")
		if patientID == "" {
			return errorResponse(log, records.ErrInvalidInput), nil
		}
		list, err := h.records.ListByPatient(ctx, claims.UserID, patientID)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, list)

	case http.MethodPost:
		var in records.Input
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		r, err := h.records.Create(ctx, claims.UserID, in)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusCreated, r)

	case http.MethodPut:
		var in records.Input
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		r, err := h.records.Update(ctx, claims.UserID, id, in)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, r)

	case http.MethodDelete:
		if err := h.records.Delete(ctx, claims.UserID, id); err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, map[string]bool{"success": true})
	}
	return errorResponse(log, errMethodNotAllowed), nil
}

type ConsultationsHandler struct {
	consultations *consultations.Service
	issuer        *auth.Issuer
	log           logrus.FieldLogger
}

func NewConsultationsHandler(svc *consultations.Service, issuer *auth.Issuer, log logrus.FieldLogger) *ConsultationsHandler {
	return &ConsultationsHandler{consultations: svc, issuer: issuer, log: log}
}

func (h *ConsultationsHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	log := logging.ForRequest(h.log, req)
	claims, err := authenticate(h.issuer, req, auth.CapConsultationsManage)
	if err != nil {
		return errorResponse(log, err), nil
	}

	switch req.HTTPMethod {
	case http.MethodPost:
		var in consultations.ScheduleInput
		if err := decodeBody(req.Body, &in); err != nil {
			return errorResponse(log, err), nil
		}
		c, err := h.consultations.Schedule(ctx, claims.UserID, in)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusCreated, c)
	case http.MethodGet:
		list, err := h.consultations.Upcoming(ctx, claims.UserID)
		if err != nil {
			return errorResponse(log, err), nil
		}
		return jsonResponse(http.StatusOK, list)
	}
	return errorResponse(log, errMethodNotAllowed), nil
}
