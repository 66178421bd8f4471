package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
	"github.com/jwalitptl/sisreg-api/internal/service/audit"
	"github.com/jwalitptl/sisreg-api/internal/service/event"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
	"github.com/jwalitptl/sisreg-api/pkg/validator"
)

const defaultAgendaDays = 30

// Authorizer answers permission checks for an explicit principal.
type Authorizer interface {
	HasPermission(p *model.Principal, permission string) bool
	Require(p *model.Principal, permission string) error
	RequireAny(p *model.Principal, permissions ...string) error
}

type Service struct {
	tx        repository.Transactor
	referrals repository.ReferralRepository
	auditor   *audit.Service
	events    event.Emitter
	authz     Authorizer
	metrics   *metrics.Metrics
}

func NewService(
	tx repository.Transactor,
	referrals repository.ReferralRepository,
	auditor *audit.Service,
	events event.Emitter,
	authz Authorizer,
	m *metrics.Metrics,
) *Service {
	return &Service{
		tx:        tx,
		referrals: referrals,
		auditor:   auditor,
		events:    events,
		authz:     authz,
		metrics:   m,
	}
}

// Create registers a new referral in EM_ANALISE on behalf of actor.
func (s *Service) Create(ctx context.Context, actor *model.Principal, in CreateInput) (*model.Referral, error) {
	if err := s.authz.Require(actor, model.PermCreateReferral); err != nil {
		return nil, err
	}

	f := &model.Referral{
		RequesterID:         actor.UserID,
		PatientName:         strings.TrimSpace(in.PatientName),
		PatientCPF:          strings.TrimSpace(in.PatientCPF),
		Status:              model.StatusEmAnalise,
		OriginUnit:          strings.TrimSpace(in.OriginUnit),
		RequestingPhysician: strings.TrimSpace(in.RequestingPhysician),
		Specialty:           strings.TrimSpace(in.Specialty),
		Attachment:          optional(in.Attachment),
		Notes:               optional(in.Notes),
	}
	if f.PatientName == "" || f.PatientCPF == "" || f.OriginUnit == "" ||
		f.RequestingPhysician == "" || f.Specialty == "" {
		return nil, apperrors.Validation("patient name, CPF, origin unit, requesting physician and specialty are required")
	}
	birth, err := validator.ParseDate(in.BirthDate)
	if err != nil {
		return nil, apperrors.Validationf("invalid birth date %q", in.BirthDate)
	}
	f.BirthDate = birth

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.referrals.Create(ctx, f); err != nil {
			return apperrors.Internal(err)
		}
		return s.emit(ctx, model.EventReferralCreated, f, actor, "", "")
	})
	if err != nil {
		s.observeFailure("create", err)
		return nil, err
	}

	s.observeTransition("create", f.Status)
	log.Info().
		Str("referral_id", f.ID.String()).
		Str("to", string(f.Status)).
		Str("actor_id", actor.UserID.String()).
		Msg("referral created")
	return f, nil
}

// Get returns the referral when actor may read every referral or is its
// requester.
func (s *Service) Get(ctx context.Context, actor *model.Principal, id uuid.UUID) (*model.Referral, error) {
	f, err := s.load(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if err := s.canView(actor, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) canView(actor *model.Principal, f *model.Referral) error {
	if s.authz.HasPermission(actor, model.PermViewReferrals) {
		return nil
	}
	if actor != nil && f.RequesterID == actor.UserID && s.authz.HasPermission(actor, model.PermCreateReferral) {
		return nil
	}
	return apperrors.Forbidden(model.PermViewReferrals)
}

// List returns referrals for a sector view.
func (s *Service) List(ctx context.Context, actor *model.Principal, q ListQuery) ([]*model.Referral, error) {
	filter, err := s.buildFilter(actor, q)
	if err != nil {
		return nil, err
	}
	items, err := s.referrals.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return items, nil
}

// Stats counts referrals per status and attendance for the same filters
// as List.
func (s *Service) Stats(ctx context.Context, actor *model.Principal, q ListQuery) (*model.ReferralStats, error) {
	filter, err := s.buildFilter(actor, q)
	if err != nil {
		return nil, err
	}
	stats, err := s.referrals.Stats(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return stats, nil
}

func (s *Service) buildFilter(actor *model.Principal, q ListQuery) (model.ReferralFilter, error) {
	filter := model.ReferralFilter{
		Search:     strings.TrimSpace(q.Search),
		Pagination: q.Pagination,
	}

	switch strings.ToLower(strings.TrimSpace(q.Sector)) {
	case SectorRegulation:
		if err := s.authz.RequireAny(actor, model.PermViewReferrals, model.PermAlterStatus, model.PermViewRegulation); err != nil {
			return filter, err
		}
		filter.Order = model.OrderRegulation
	case SectorOutpatient:
		if err := s.authz.RequireAny(actor, model.PermRecordAttendance, model.PermViewReferrals); err != nil {
			return filter, err
		}
		filter.Order = model.OrderOutpatient
		filter.Statuses = []model.ReferralStatus{model.StatusAgendado}
	case SectorOrigin:
		if err := s.authz.Require(actor, model.PermCreateReferral); err != nil {
			return filter, err
		}
		filter.Order = model.OrderOrigin
	case "":
		if err := s.authz.Require(actor, model.PermViewReferrals); err != nil {
			return filter, err
		}
	default:
		return filter, apperrors.Validationf("unknown sector %q", q.Sector)
	}

	if q.Mine {
		id := actor.UserID
		filter.RequesterID = &id
	}

	if filter.Order != model.OrderOutpatient {
		if st := strings.TrimSpace(q.Status); st != "" {
			if strings.EqualFold(st, statusPendingGroup) {
				filter.Statuses = []model.ReferralStatus{model.StatusEmAnalise, model.StatusPendente}
			} else {
				status, ok := model.ParseReferralStatus(st)
				if !ok {
					return filter, apperrors.Validationf("unknown status %q", q.Status)
				}
				filter.Statuses = []model.ReferralStatus{status}
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(q.DateField)) {
	case "", string(model.DateFieldCreated):
		filter.DateField = model.DateFieldCreated
	case string(model.DateFieldAppointment):
		filter.DateField = model.DateFieldAppointment
	default:
		return filter, apperrors.Validationf("unknown date field %q", q.DateField)
	}
	var err error
	if filter.From, err = parseOptionalDate("from", q.From); err != nil {
		return filter, err
	}
	if filter.To, err = parseOptionalDate("to", q.To); err != nil {
		return filter, err
	}
	return filter, nil
}

// Agenda returns AGENDADO referrals in the date range grouped by day.
// The range defaults to today through today+30 in the audit timezone.
func (s *Service) Agenda(ctx context.Context, actor *model.Principal, q AgendaQuery) ([]model.AgendaDay, error) {
	if err := s.authz.Require(actor, model.PermViewReferrals); err != nil {
		return nil, err
	}

	now := s.auditor.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	filter := model.AgendaFilter{
		From:        today,
		To:          today.AddDate(0, 0, defaultAgendaDays),
		Physician:   strings.TrimSpace(q.Physician),
		Destination: strings.TrimSpace(q.Destination),
		Specialty:   strings.TrimSpace(q.Specialty),
	}
	if from, err := parseOptionalDate("from", q.From); err != nil {
		return nil, err
	} else if from != nil {
		filter.From = *from
	}
	if to, err := parseOptionalDate("to", q.To); err != nil {
		return nil, err
	} else if to != nil {
		filter.To = *to
	}
	if filter.To.Before(filter.From) {
		return nil, apperrors.Validation("agenda end date is before start date")
	}

	items, err := s.referrals.Agenda(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return groupByDay(items), nil
}

func groupByDay(items []*model.Referral) []model.AgendaDay {
	days := []model.AgendaDay{}
	for _, f := range items {
		if f.AppointmentDate == nil {
			continue
		}
		d := *f.AppointmentDate
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		if n := len(days); n > 0 && days[n-1].Date.Equal(day) {
			days[n-1].Referrals = append(days[n-1].Referrals, f)
			continue
		}
		days = append(days, model.AgendaDay{Date: day, Referrals: []*model.Referral{f}})
	}
	return days
}

// ScheduleOptions lists the distinct physicians, destinations and
// specialties already on record.
func (s *Service) ScheduleOptions(ctx context.Context, actor *model.Principal) (*model.ScheduleOptions, error) {
	if err := s.authz.RequireAny(actor, model.PermViewReferrals, model.PermAlterStatus); err != nil {
		return nil, err
	}
	opts, err := s.referrals.ScheduleOptions(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return opts, nil
}

// LastRevisionReason returns the reason of the newest revision request,
// or nil when none was made.
func (s *Service) LastRevisionReason(ctx context.Context, actor *model.Principal, id uuid.UUID) (*string, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	entry, err := s.auditor.Latest(ctx, id, model.AuditRequestRevision)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Internal(err)
	}
	reason := entry.Payload
	return &reason, nil
}

// AuditTrail returns the referral's audit entries, oldest first.
func (s *Service) AuditTrail(ctx context.Context, actor *model.Principal, id uuid.UUID) ([]TrailEntry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.auditor.Trail(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	lines := s.auditor.Lines(entries)
	out := make([]TrailEntry, len(entries))
	for i, e := range entries {
		out[i] = TrailEntry{AuditEntry: e, Line: lines[i]}
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Referral, error) {
	var (
		f   *model.Referral
		err error
	)
	if forUpdate {
		f, err = s.referrals.GetForUpdate(ctx, id)
	} else {
		f, err = s.referrals.Get(ctx, id)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("referral", err)
		}
		return nil, apperrors.Internal(err)
	}
	return f, nil
}

func (s *Service) emit(ctx context.Context, eventType string, f *model.Referral, actor *model.Principal, from model.ReferralStatus, reason string) error {
	payload := model.ReferralEvent{
		ReferralID:  f.ID,
		RequesterID: f.RequesterID,
		PatientName: f.PatientName,
		From:        from,
		To:          f.Status,
		Schedule:    f.Schedule(),
		Reason:      reason,
		OccurredAt:  s.auditor.Now(),
	}
	if actor != nil {
		id := actor.UserID
		payload.ActorID = &id
		payload.ActorName = actor.DisplayName()
	}
	if err := s.events.Emit(ctx, eventType, payload); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) observeTransition(action string, to model.ReferralStatus) {
	if s.metrics != nil {
		s.metrics.ReferralTransitions.WithLabelValues(action, string(to)).Inc()
	}
}

func (s *Service) observeFailure(action string, err error) {
	if s.metrics == nil {
		return
	}
	kind := "internal"
	if appErr, ok := apperrors.As(err); ok {
		kind = appErr.Kind()
	}
	s.metrics.ReferralTransitionFailure.WithLabelValues(action, kind).Inc()
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseOptionalDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := validator.ParseDate(value)
	if err != nil {
		return nil, apperrors.Validationf("invalid %s date %q", field, value)
	}
	return &d, nil
}

func describeSchedule(s model.Schedule) string {
	return fmt.Sprintf("%s %s, %s, %s", s.Date.Format("02/01/2006"), s.Slot, s.Destination, s.Physician)
}
