package auth

import (
	"errors"

	"github.com/psibackend/internal/models"
)

var ErrForbidden = errors.New("forbidden")

type Capability string

const (
	CapLinksManage         Capability = "links:manage"
	CapPatientsManage      Capability = "patients:manage"
	CapRecordsManage       Capability = "records:manage"
	CapConsultationsManage Capability = "consultations:manage"
	CapDocumentsGenerate   Capability = "documents:generate"
	CapSessionsJoin        Capability = "sessions:join"
	CapCreditsRead         Capability = "credits:read"
	CapCreditsReadAny      Capability = "credits:read:any"
	CapPaymentsCreate      Capability = "payments:create"
	CapPaymentsConfirm     Capability = "payments:confirm"
)

var practitionerCaps = []Capability{
	CapLinksManage,
	CapPatientsManage,
	CapRecordsManage,
	CapConsultationsManage,
	CapDocumentsGenerate,
	CapSessionsJoin,
	CapCreditsRead,
	CapPaymentsCreate,
}

var adminCaps = []Capability{
	CapCreditsRead,
	CapCreditsReadAny,
	CapPaymentsConfirm,
}

var roleCapabilities = map[models.Role]map[Capability]bool{
	models.RoleAdmin:             set(adminCaps),
	models.RolePsychologist:      set(practitionerCaps),
	models.RoleAdminPsychologist: set(append(append([]Capability{}, practitionerCaps...), adminCaps...)),
	models.RoleCommon:            set([]Capability{CapSessionsJoin}),
}

func set(caps []Capability) map[Capability]bool {
	m := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		m[c] = true
	}
	return m
}

func Can(role models.Role, c Capability) bool {
	return roleCapabilities[role][c]
}

// Authorize is the single capability check every handler goes through.
func Authorize(claims *Claims, c Capability) error {
	if claims == nil || !Can(claims.Role, c) {
		return ErrForbidden
	}
	return nil
}

func ValidRole(r models.Role) bool {
	_, ok := roleCapabilities[r]
	return ok
}
