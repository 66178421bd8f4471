package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/validator"
)

const errScheduleConflict = "schedule conflict: slot already booked for this physician or destination"

// change describes the side effects of a successful transition.
type change struct {
	event   string
	action  model.AuditAction
	payload string
	note    string
	reason  string
}

type applyFunc func(ctx context.Context, f *model.Referral) (*change, error)

// mutate loads the referral under a row lock, applies fn and persists the
// result together with its audit entry and outbox event. A nil change
// leaves the record untouched.
func (s *Service) mutate(ctx context.Context, actor *model.Principal, id uuid.UUID, op string, fn applyFunc) (*model.Referral, error) {
	var (
		out  *model.Referral
		from model.ReferralStatus
		ch   *change
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		f, err := s.load(ctx, id, true)
		if err != nil {
			return err
		}
		from = f.Status

		ch, err = fn(ctx, f)
		if err != nil {
			return err
		}
		out = f
		if ch == nil {
			return nil
		}

		if err := s.referrals.Update(ctx, f); err != nil {
			if errors.Is(err, repository.ErrScheduleTaken) {
				return apperrors.Conflict(errScheduleConflict, err)
			}
			return apperrors.Internal(err)
		}
		if ch.action != "" {
			if _, err := s.auditor.Record(ctx, f.ID, actor, ch.action, ch.payload, ch.note); err != nil {
				return apperrors.Internal(err)
			}
		}
		if ch.event != "" {
			return s.emit(ctx, ch.event, f, actor, from, ch.reason)
		}
		return nil
	})
	if err != nil {
		s.observeFailure(op, err)
		log.Debug().Err(err).Str("referral_id", id.String()).Str("op", op).Msg("referral transition rejected")
		return nil, err
	}
	if ch == nil {
		return out, nil
	}

	s.observeTransition(op, out.Status)
	log.Info().
		Str("referral_id", out.ID.String()).
		Str("op", op).
		Str("from", string(from)).
		Str("to", string(out.Status)).
		Str("actor_id", actor.UserID.String()).
		Msg("referral transition")
	return out, nil
}

// Authorize schedules a referral awaiting regulation. A referral whose
// patient missed the previous appointment is recorded as a reschedule.
func (s *Service) Authorize(ctx context.Context, actor *model.Principal, id uuid.UUID, in AuthorizeInput) (*model.Referral, error) {
	if err := s.authz.Require(actor, model.PermAlterStatus); err != nil {
		return nil, err
	}
	sched, err := parseSchedule(in)
	if err != nil {
		return nil, err
	}
	note := strings.TrimSpace(in.Note)

	return s.mutate(ctx, actor, id, "authorize", func(ctx context.Context, f *model.Referral) (*change, error) {
		if f.Status != model.StatusEmAnalise && f.Status != model.StatusPendente {
			return nil, apperrors.InvalidState(fmt.Sprintf("cannot authorize a referral in %s", f.Status))
		}
		n, err := s.referrals.CountScheduleConflicts(ctx, f.ID, sched)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if n > 0 {
			return nil, apperrors.Conflict(errScheduleConflict, nil)
		}

		action, eventType := model.AuditAuthorize, model.EventReferralAuthorized
		if f.Attended != nil && !*f.Attended {
			action, eventType = model.AuditReschedule, model.EventReferralRescheduled
			f.Attended = nil
		}
		f.Status = model.StatusAgendado
		f.ApplySchedule(sched, actor.UserID)

		return &change{
			event:   eventType,
			action:  action,
			payload: describeSchedule(sched),
			note:    note,
		}, nil
	})
}

func parseSchedule(in AuthorizeInput) (model.Schedule, error) {
	sched := model.Schedule{
		Slot:        strings.TrimSpace(in.AppointmentSlot),
		Destination: strings.TrimSpace(in.Destination),
		Physician:   strings.TrimSpace(in.AttendingPhysician),
	}
	date := strings.TrimSpace(in.AppointmentDate)
	if date == "" || sched.Slot == "" || sched.Destination == "" || sched.Physician == "" {
		return sched, apperrors.Validation("appointment date, slot, destination and attending physician are required")
	}
	d, err := validator.ParseDate(date)
	if err != nil {
		return sched, apperrors.Validationf("invalid appointment date %q", in.AppointmentDate)
	}
	sched.Date = d
	return sched, nil
}

// Deny cancels a non-terminal referral with a mandatory justification.
func (s *Service) Deny(ctx context.Context, actor *model.Principal, id uuid.UUID, in DenyInput) (*model.Referral, error) {
	if err := s.authz.Require(actor, model.PermAlterStatus); err != nil {
		return nil, err
	}
	justification := strings.TrimSpace(in.Justification)
	if justification == "" {
		return nil, apperrors.Validation("justification is required")
	}

	return s.mutate(ctx, actor, id, "deny", func(ctx context.Context, f *model.Referral) (*change, error) {
		if f.Status.IsTerminal() {
			return nil, apperrors.InvalidState(fmt.Sprintf("cannot deny a referral in %s", f.Status))
		}
		f.Status = model.StatusCancelado
		f.DenialJustification = &justification
		return &change{
			event:   model.EventReferralDenied,
			action:  model.AuditDeny,
			payload: justification,
			note:    strings.TrimSpace(in.Note),
			reason:  justification,
		}, nil
	})
}

// RequestRevision sends a non-terminal referral back to its origin unit
// and drops any schedule it held.
func (s *Service) RequestRevision(ctx context.Context, actor *model.Principal, id uuid.UUID, in RevisionInput) (*model.Referral, error) {
	if err := s.authz.Require(actor, model.PermAlterStatus); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperrors.Validation("revision reason is required")
	}

	return s.mutate(ctx, actor, id, "request_revision", func(ctx context.Context, f *model.Referral) (*change, error) {
		if f.Status.IsTerminal() {
			return nil, apperrors.InvalidState(fmt.Sprintf("cannot request revision of a referral in %s", f.Status))
		}
		f.Status = model.StatusPendente
		f.ClearSchedule()
		return &change{
			event:   model.EventReferralRevisionRequested,
			action:  model.AuditRequestRevision,
			payload: reason,
			reason:  reason,
		}, nil
	})
}

// Resubmit applies the origin unit's corrections to a PENDENTE referral
// with an unanswered revision request and returns it to EM_ANALISE.
func (s *Service) Resubmit(ctx context.Context, actor *model.Principal, id uuid.UUID, in ResubmitInput) (*model.Referral, error) {
	if err := s.authz.Require(actor, model.PermCreateReferral); err != nil {
		return nil, err
	}
	response := strings.TrimSpace(in.Response)
	if response == "" {
		return nil, apperrors.Validation("revision response is required")
	}
	birth, err := parseOptionalDate("birth", in.BirthDate)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, actor, id, "resubmit", func(ctx context.Context, f *model.Referral) (*change, error) {
		if f.RequesterID != actor.UserID && !s.authz.HasPermission(actor, model.PermAdminTotal) {
			return nil, apperrors.ForbiddenMsg("only the requester or an administrator may resubmit this referral")
		}
		if f.Status != model.StatusPendente {
			return nil, apperrors.InvalidState(fmt.Sprintf("cannot resubmit a referral in %s", f.Status))
		}
		open, err := s.auditor.RevisionOpen(ctx, f.ID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if !open {
			return nil, apperrors.InvalidState("referral has no open revision request")
		}

		keep(&f.PatientName, in.PatientName)
		keep(&f.PatientCPF, in.PatientCPF)
		keep(&f.OriginUnit, in.OriginUnit)
		keep(&f.RequestingPhysician, in.RequestingPhysician)
		keep(&f.Specialty, in.Specialty)
		if birth != nil {
			f.BirthDate = *birth
		}
		f.Attachment = optional(in.Attachment)
		f.Status = model.StatusEmAnalise

		return &change{
			event:   model.EventReferralResubmitted,
			action:  model.AuditResubmit,
			payload: response,
			reason:  response,
		}, nil
	})
}

func keep(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

// RecordAttendance registers whether the patient showed up for an
// AGENDADO referral. A no-show returns it to EM_ANALISE without a
// schedule; a performed procedure concludes it.
func (s *Service) RecordAttendance(ctx context.Context, actor *model.Principal, id uuid.UUID, in AttendanceInput) (*model.Referral, error) {
	if err := s.authz.Require(actor, model.PermRecordAttendance); err != nil {
		return nil, err
	}
	if in.Attended == nil {
		return nil, apperrors.Validation("attended is required")
	}
	attended := *in.Attended
	performed := in.ProcedurePerformed != nil && *in.ProcedurePerformed
	if !attended && performed {
		return nil, apperrors.Validation("a procedure cannot be performed on an absent patient")
	}
	outcome := strings.TrimSpace(in.Outcome)

	return s.mutate(ctx, actor, id, "record_attendance", func(ctx context.Context, f *model.Referral) (*change, error) {
		if f.Status != model.StatusAgendado {
			return nil, apperrors.InvalidState(fmt.Sprintf("cannot record attendance for a referral in %s", f.Status))
		}
		if outcome != "" {
			f.ProcedureOutcome = &outcome
		}
		f.Attended = &attended

		if !attended {
			f.Status = model.StatusEmAnalise
			f.ClearSchedule()
			return &change{
				event:   model.EventReferralNoShow,
				action:  model.AuditNoShow,
				payload: outcome,
			}, nil
		}

		eventType := model.EventReferralAttended
		if in.ProcedurePerformed != nil {
			f.ProcedurePerformed = performed
		}
		if performed {
			f.Status = model.StatusConcluido
			eventType = model.EventReferralCompleted
		}
		return &change{
			event:   eventType,
			action:  model.AuditAttended,
			payload: outcome,
		}, nil
	})
}

// OverrideStatus assigns any status except AGENDADO directly. Assigning
// the current status is a no-op.
func (s *Service) OverrideStatus(ctx context.Context, actor *model.Principal, id uuid.UUID, in OverrideInput) (*model.Referral, error) {
	if err := s.authz.Require(actor, model.PermAlterStatus); err != nil {
		return nil, err
	}
	target, ok := model.ParseReferralStatus(in.Status)
	if !ok {
		return nil, apperrors.Validationf("unknown status %q", in.Status)
	}
	if !target.Overridable() {
		return nil, apperrors.Validationf("status %s can only be set by authorizing the referral", target)
	}

	return s.mutate(ctx, actor, id, "override_status", func(ctx context.Context, f *model.Referral) (*change, error) {
		if f.Status == target {
			return nil, nil
		}
		from := f.Status
		f.Status = target
		return &change{
			event:   model.EventReferralStatusOverridden,
			action:  model.AuditStatusOverride,
			payload: fmt.Sprintf("%s -> %s", from, target),
		}, nil
	})
}

// Delete removes a referral and its audit trail.
func (s *Service) Delete(ctx context.Context, actor *model.Principal, id uuid.UUID) error {
	if err := s.authz.Require(actor, model.PermAdminTotal); err != nil {
		return err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		f, err := s.load(ctx, id, true)
		if err != nil {
			return err
		}
		if err := s.referrals.Delete(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound("referral", err)
			}
			return apperrors.Internal(err)
		}
		return s.emit(ctx, model.EventReferralDeleted, f, actor, f.Status, "")
	})
	if err != nil {
		s.observeFailure("delete", err)
		return err
	}
	log.Info().Str("referral_id", id.String()).Str("actor_id", actor.UserID.String()).Msg("referral deleted")
	return nil
}
