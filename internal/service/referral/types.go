package referral

import (
	"github.com/jwalitptl/sisreg-api/internal/model"
)

type CreateInput struct {
	PatientName         string `json:"patient_name" binding:"required"`
	BirthDate           string `json:"birth_date" binding:"required,isodate"`
	PatientCPF          string `json:"patient_cpf" binding:"required"`
	OriginUnit          string `json:"origin_unit" binding:"required"`
	RequestingPhysician string `json:"requesting_physician" binding:"required"`
	Specialty           string `json:"specialty" binding:"required"`
	Attachment          string `json:"attachment"`
	Notes               string `json:"notes"`
}

type AuthorizeInput struct {
	AppointmentDate    string `json:"appointment_date"`
	AppointmentSlot    string `json:"appointment_slot"`
	Destination        string `json:"destination"`
	AttendingPhysician string `json:"attending_physician"`
	Note               string `json:"note"`
}

type DenyInput struct {
	Justification string `json:"justification"`
	Note          string `json:"note"`
}

type RevisionInput struct {
	Reason string `json:"reason"`
}

// ResubmitInput carries the corrected request. Empty fields keep their
// current value, except Attachment which is cleared when empty.
type ResubmitInput struct {
	PatientName         string `json:"patient_name"`
	BirthDate           string `json:"birth_date" binding:"omitempty,isodate"`
	PatientCPF          string `json:"patient_cpf"`
	OriginUnit          string `json:"origin_unit"`
	RequestingPhysician string `json:"requesting_physician"`
	Specialty           string `json:"specialty"`
	Attachment          string `json:"attachment"`
	Response            string `json:"response"`
}

type AttendanceInput struct {
	Attended           *bool  `json:"attended"`
	ProcedurePerformed *bool  `json:"procedure_performed"`
	Outcome            string `json:"outcome"`
}

type OverrideInput struct {
	Status string `json:"status"`
}

// ListQuery selects referrals for one of the sector views.
type ListQuery struct {
	Sector    string `form:"sector"`
	Status    string `form:"status"`
	Search    string `form:"q"`
	DateField string `form:"date_field"`
	From      string `form:"from"`
	To        string `form:"to"`
	Mine      bool   `form:"mine"`
	model.Pagination
}

type AgendaQuery struct {
	From        string `form:"from"`
	To          string `form:"to"`
	Physician   string `form:"physician"`
	Destination string `form:"destination"`
	Specialty   string `form:"specialty"`
}

// TrailEntry is an audit entry with its rendered line.
type TrailEntry struct {
	*model.AuditEntry
	Line string `json:"line"`
}

// Sector names accepted by ListQuery.
const (
	SectorRegulation = "regulation"
	SectorOutpatient = "outpatient"
	SectorOrigin     = "origin"
)

// statusPendingGroup selects both statuses awaiting a regulation decision.
const statusPendingGroup = "PENDENTES"
