package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

// DefaultTimezone is the civil zone audit lines are rendered in.
const DefaultTimezone = "America/Sao_Paulo"

// LoadLocation resolves name, falling back to a fixed UTC-3 zone when the
// tz database is unavailable.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Err(err).Str("timezone", name).Msg("timezone unavailable, using UTC-3")
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// Service appends structured entries to a referral's audit trail.
type Service struct {
	repo repository.AuditRepository
	loc  *time.Location
	now  func() time.Time
}

func NewService(repo repository.AuditRepository, loc *time.Location) *Service {
	if loc == nil {
		loc = LoadLocation(DefaultTimezone)
	}
	return &Service{
		repo: repo,
		loc:  loc,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the current time in the audit timezone.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// Record appends one entry attributed to actor. It joins the caller's
// transaction when ctx carries one.
func (s *Service) Record(ctx context.Context, referralID uuid.UUID, actor *model.Principal, action model.AuditAction, payload, note string) (*model.AuditEntry, error) {
	entry := &model.AuditEntry{
		ID:         uuid.New(),
		ReferralID: referralID,
		CreatedAt:  s.now(),
		ActorName:  actor.DisplayName(),
		Action:     action,
		Payload:    payload,
		Note:       note,
	}
	if actor != nil {
		id := actor.UserID
		entry.ActorID = &id
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record %s: %w", action, err)
	}
	return entry, nil
}

// Trail returns every entry of the referral, oldest first.
func (s *Service) Trail(ctx context.Context, referralID uuid.UUID) ([]*model.AuditEntry, error) {
	entries, err := s.repo.ListByReferral(ctx, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return entries, nil
}

// Latest returns the newest entry of action, or repository.ErrNotFound.
func (s *Service) Latest(ctx context.Context, referralID uuid.UUID, action model.AuditAction) (*model.AuditEntry, error) {
	return s.repo.Latest(ctx, referralID, action)
}

// RevisionOpen reports whether the newest revision request of the referral
// has not been answered by a resubmission.
func (s *Service) RevisionOpen(ctx context.Context, referralID uuid.UUID) (bool, error) {
	entries, err := s.Trail(ctx, referralID)
	if err != nil {
		return false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		switch entries[i].Action {
		case model.AuditRequestRevision:
			return true, nil
		case model.AuditResubmit:
			return false, nil
		}
	}
	return false, nil
}

// Lines renders entries in the human readable trail format.
func (s *Service) Lines(entries []*model.AuditEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Line(s.loc))
	}
	return lines
}
