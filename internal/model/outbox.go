package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	// OutboxStatusProcessing marks an event claimed by a worker. RetryAt
	// holds the end of the claim; past it the event can be claimed again.
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusProcessed  OutboxStatus = "PROCESSED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

// Referral lifecycle event types.
const (
	EventReferralCreated           = "referral.created"
	EventReferralAuthorized        = "referral.authorized"
	EventReferralRescheduled       = "referral.rescheduled"
	EventReferralDenied            = "referral.denied"
	EventReferralRevisionRequested = "referral.revision_requested"
	EventReferralResubmitted       = "referral.resubmitted"
	EventReferralAttended          = "referral.attended"
	EventReferralNoShow            = "referral.no_show"
	EventReferralCompleted         = "referral.completed"
	EventReferralStatusOverridden  = "referral.status_overridden"
	EventReferralDeleted           = "referral.deleted"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// ReferralEvent is the payload carried by every referral lifecycle event.
type ReferralEvent struct {
	ReferralID  uuid.UUID      `json:"referral_id"`
	RequesterID uuid.UUID      `json:"requester_id"`
	ActorID     *uuid.UUID     `json:"actor_id,omitempty"`
	ActorName   string         `json:"actor_name,omitempty"`
	PatientName string         `json:"patient_name"`
	From        ReferralStatus `json:"from,omitempty"`
	To          ReferralStatus `json:"to"`
	Schedule    *Schedule      `json:"schedule,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
