package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the workflow step recorded by an audit entry.
type AuditAction string

const (
	AuditAuthorize       AuditAction = "REGULATION_AUTHORIZE"
	AuditReschedule      AuditAction = "REGULATION_RESCHEDULE"
	AuditDeny            AuditAction = "REGULATION_DENY"
	AuditRequestRevision AuditAction = "REGULATION_REQUEST_REVISION"
	AuditResubmit        AuditAction = "ORIGIN_RESUBMIT"
	AuditAttended        AuditAction = "OUTPATIENT_ATTENDED"
	AuditNoShow          AuditAction = "OUTPATIENT_NO_SHOW"
	AuditStatusOverride  AuditAction = "STATUS_OVERRIDE"
)

var auditHeaders = map[AuditAction]string{
	AuditAuthorize:       "[REGULAÇÃO - AUTORIZAR]",
	AuditReschedule:      "[REGULAÇÃO - REAGENDAR]",
	AuditDeny:            "[REGULAÇÃO - NEGAR]",
	AuditRequestRevision: "[REGULAÇÃO - SOLICITAR REVISÃO]",
	AuditResubmit:        "[UBS - RESPOSTA REVISÃO]",
	AuditAttended:        "[AMBULATÓRIO - PRESENÇA]",
	AuditNoShow:          "[AMBULATÓRIO - FALTA]",
	AuditStatusOverride:  "[STATUS - ALTERAR]",
}

// Header is the bracketed label shown in the human readable trail.
func (a AuditAction) Header() string {
	if h, ok := auditHeaders[a]; ok {
		return h
	}
	return "[" + string(a) + "]"
}

// AuditEntry is one append-only record in a referral's trail.
type AuditEntry struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	ReferralID uuid.UUID   `json:"referral_id" db:"referral_id"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	ActorID    *uuid.UUID  `json:"actor_id,omitempty" db:"actor_id"`
	ActorName  string      `json:"actor_name" db:"actor_name"`
	Action     AuditAction `json:"action" db:"action"`
	Payload    string      `json:"payload" db:"payload"`
	Note       string      `json:"note,omitempty" db:"note"`
}

// AuditTimeLayout is the civil timestamp format used in rendered lines.
const AuditTimeLayout = "02/01/2006 15:04"

// Line renders the entry as "<header> <payload> | Obs: <note> - <stamp> | por <actor>".
func (e *AuditEntry) Line(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	b.WriteString(e.Action.Header())
	if e.Payload != "" {
		b.WriteString(" ")
		b.WriteString(e.Payload)
	}
	if e.Note != "" {
		b.WriteString(" | Obs: ")
		b.WriteString(e.Note)
	}
	b.WriteString(" - ")
	b.WriteString(e.CreatedAt.In(loc).Format(AuditTimeLayout))
	b.WriteString(" | por ")
	b.WriteString(e.ActorName)
	return b.String()
}
