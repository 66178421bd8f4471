package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferralStatus values are persisted and transmitted verbatim.
type ReferralStatus string

const (
	StatusEmAnalise ReferralStatus = "EM_ANALISE"
	StatusPendente  ReferralStatus = "PENDENTE"
	StatusAgendado  ReferralStatus = "AGENDADO"
	StatusConcluido ReferralStatus = "CONCLUIDO"
	StatusCancelado ReferralStatus = "CANCELADO"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ReferralStatus{
	StatusEmAnalise,
	StatusPendente,
	StatusAgendado,
	StatusConcluido,
	StatusCancelado,
}

// OverridableStatuses may be assigned through the generic status override.
// AGENDADO is reachable only through authorization.
var OverridableStatuses = []ReferralStatus{
	StatusEmAnalise,
	StatusPendente,
	StatusConcluido,
	StatusCancelado,
}

// ParseReferralStatus accepts a status literal in any case.
func ParseReferralStatus(s string) (ReferralStatus, bool) {
	st := ReferralStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

func (s ReferralStatus) IsTerminal() bool {
	return s == StatusConcluido || s == StatusCancelado
}

func (s ReferralStatus) Overridable() bool {
	for _, o := range OverridableStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Schedule is the appointment assigned when a referral is authorized.
// All four fields are set together or not at all.
type Schedule struct {
	Date        time.Time `json:"appointment_date"`
	Slot        string    `json:"appointment_slot"`
	Destination string    `json:"destination"`
	Physician   string    `json:"attending_physician"`
}

// Referral is one patient referral and its workflow state.
type Referral struct {
	Base
	RequesterID         uuid.UUID      `json:"requester_id" db:"requester_id"`
	PatientName         string         `json:"patient_name" db:"patient_name"`
	BirthDate           time.Time      `json:"birth_date" db:"birth_date"`
	PatientCPF          string         `json:"patient_cpf" db:"patient_cpf"`
	Status              ReferralStatus `json:"status" db:"status"`
	OriginUnit          string         `json:"origin_unit" db:"origin_unit"`
	RequestingPhysician string         `json:"requesting_physician" db:"requesting_physician"`
	Specialty           string         `json:"specialty" db:"specialty"`
	Attachment          *string        `json:"attachment,omitempty" db:"attachment"`
	Notes               *string        `json:"notes,omitempty" db:"notes"`

	AttendingPhysician *string    `json:"attending_physician,omitempty" db:"attending_physician"`
	AppointmentDate    *time.Time `json:"appointment_date,omitempty" db:"appointment_date"`
	AppointmentSlot    *string    `json:"appointment_slot,omitempty" db:"appointment_slot"`
	Destination        *string    `json:"destination,omitempty" db:"destination"`
	AuthorizerID       *uuid.UUID `json:"authorizer_id,omitempty" db:"authorizer_id"`

	DenialJustification *string `json:"denial_justification,omitempty" db:"denial_justification"`
	Attended            *bool   `json:"attended" db:"attended"`
	ProcedurePerformed  bool    `json:"procedure_performed" db:"procedure_performed"`
	ProcedureOutcome    *string `json:"procedure_outcome,omitempty" db:"procedure_outcome"`
}

// Schedule returns the current appointment, or nil when unscheduled.
func (r *Referral) Schedule() *Schedule {
	if r.AppointmentDate == nil || r.AppointmentSlot == nil || r.Destination == nil || r.AttendingPhysician == nil {
		return nil
	}
	return &Schedule{
		Date:        *r.AppointmentDate,
		Slot:        *r.AppointmentSlot,
		Destination: *r.Destination,
		Physician:   *r.AttendingPhysician,
	}
}

// ApplySchedule sets the four schedule fields and the authorizer.
func (r *Referral) ApplySchedule(s Schedule, authorizer uuid.UUID) {
	d := s.Date
	slot, dest, phys := s.Slot, s.Destination, s.Physician
	r.AppointmentDate = &d
	r.AppointmentSlot = &slot
	r.Destination = &dest
	r.AttendingPhysician = &phys
	r.AuthorizerID = &authorizer
}

// ClearSchedule drops the four schedule fields and the authorizer.
func (r *Referral) ClearSchedule() {
	r.AppointmentDate = nil
	r.AppointmentSlot = nil
	r.Destination = nil
	r.AttendingPhysician = nil
	r.AuthorizerID = nil
}

// SectorOrder selects the priority ordering used by the sector lists.
type SectorOrder string

const (
	OrderNewest     SectorOrder = ""
	OrderRegulation SectorOrder = "regulation"
	OrderOrigin     SectorOrder = "origin"
	OrderOutpatient SectorOrder = "outpatient"
)

// DateField selects which date a range filter applies to.
type DateField string

const (
	DateFieldCreated     DateField = "created"
	DateFieldAppointment DateField = "appointment"
)

type ReferralFilter struct {
	Statuses    []ReferralStatus
	DateField   DateField
	From        *time.Time
	To          *time.Time
	Search      string
	RequesterID *uuid.UUID
	Order       SectorOrder
	Pagination
}

type ReferralStats struct {
	Total      int                    `json:"total"`
	ByStatus   map[ReferralStatus]int `json:"by_status"`
	Attended   int                    `json:"attended"`
	Absent     int                    `json:"absent"`
	Unrecorded int                    `json:"unrecorded"`
}

type AgendaFilter struct {
	From        time.Time
	To          time.Time
	Physician   string
	Destination string
	Specialty   string
}

type AgendaDay struct {
	Date      time.Time   `json:"date"`
	Referrals []*Referral `json:"referrals"`
}

type ScheduleOptions struct {
	Physicians   []string `json:"physicians"`
	Destinations []string `json:"destinations"`
	Specialties  []string `json:"specialties"`
}
