package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

type referralRepo struct{ s *Store }

func (r *referralRepo) Create(_ context.Context, f *model.Referral) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if _, ok := r.s.data.referrals[f.ID]; ok {
		return repository.ErrDuplicate
	}
	now := r.s.now()
	f.CreatedAt = now
	f.UpdatedAt = now
	r.s.data.referrals[f.ID] = cloneReferral(f)
	return nil
}

func (r *referralRepo) Get(_ context.Context, id uuid.UUID) (*model.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	f, ok := r.s.data.referrals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneReferral(f), nil
}

func (r *referralRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	return r.Get(ctx, id)
}

// Update enforces the same partial unique indexes as the SQL schema.
func (r *referralRepo) Update(_ context.Context, f *model.Referral) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.referrals[f.ID]; !ok {
		return repository.ErrNotFound
	}
	if f.Status == model.StatusAgendado {
		sched := f.Schedule()
		if sched == nil {
			return fmt.Errorf("scheduled referral %s has no schedule", f.ID)
		}
		if n := r.conflicts(f.ID, *sched); n > 0 {
			return repository.ErrScheduleTaken
		}
	}
	f.UpdatedAt = r.s.now()
	r.s.data.referrals[f.ID] = cloneReferral(f)
	return nil
}

func (r *referralRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.referrals[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.referrals, id)
	kept := r.s.data.audit[:0]
	for _, e := range r.s.data.audit {
		if e.ReferralID != id {
			kept = append(kept, e)
		}
	}
	r.s.data.audit = kept
	return nil
}

func (r *referralRepo) conflicts(excludeID uuid.UUID, s model.Schedule) int {
	n := 0
	for _, other := range r.s.data.referrals {
		if other.ID == excludeID || other.Status != model.StatusAgendado {
			continue
		}
		theirs := other.Schedule()
		if theirs == nil || !sameDay(theirs.Date, s.Date) || theirs.Slot != s.Slot {
			continue
		}
		if theirs.Physician == s.Physician || theirs.Destination == s.Destination {
			n++
		}
	}
	return n
}

func (r *referralRepo) CountScheduleConflicts(_ context.Context, excludeID uuid.UUID, s model.Schedule) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.conflicts(excludeID, s), nil
}

func (r *referralRepo) matches(f *model.Referral, filter model.ReferralFilter) bool {
	if len(filter.Statuses) > 0 {
		ok := false
		for _, s := range filter.Statuses {
			if f.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.Search != "" && !containsFold(f.PatientName, filter.Search) && !containsFold(f.PatientCPF, filter.Search) {
		return false
	}
	if filter.RequesterID != nil && f.RequesterID != *filter.RequesterID {
		return false
	}
	if filter.From != nil || filter.To != nil {
		day := dayOf(f.CreatedAt)
		if filter.DateField == model.DateFieldAppointment {
			if f.AppointmentDate == nil {
				return false
			}
			day = dayOf(*f.AppointmentDate)
		}
		if filter.From != nil && day.Before(dayOf(*filter.From)) {
			return false
		}
		if filter.To != nil && day.After(dayOf(*filter.To)) {
			return false
		}
	}
	return true
}

func (r *referralRepo) selectMatching(filter model.ReferralFilter) []*model.Referral {
	var out []*model.Referral
	for _, f := range r.s.data.referrals {
		if r.matches(f, filter) {
			out = append(out, cloneReferral(f))
		}
	}
	return out
}

func regulationRank(s model.ReferralStatus) int {
	switch s {
	case model.StatusEmAnalise, model.StatusPendente:
		return 0
	case model.StatusAgendado:
		return 1
	}
	return 2
}

func originRank(s model.ReferralStatus) int {
	switch s {
	case model.StatusPendente:
		return 0
	case model.StatusEmAnalise:
		return 1
	case model.StatusAgendado:
		return 2
	case model.StatusConcluido:
		return 3
	}
	return 4
}

func (r *referralRepo) List(_ context.Context, filter model.ReferralFilter) ([]*model.Referral, error) {
	r.s.mu.RLock()
	items := r.selectMatching(filter)
	r.s.mu.RUnlock()

	newest := func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) }
	var less func(i, j int) bool
	switch filter.Order {
	case model.OrderRegulation:
		less = func(i, j int) bool {
			ri, rj := regulationRank(items[i].Status), regulationRank(items[j].Status)
			if ri != rj {
				return ri < rj
			}
			return newest(i, j)
		}
	case model.OrderOrigin:
		less = func(i, j int) bool {
			ri, rj := originRank(items[i].Status), originRank(items[j].Status)
			if ri != rj {
				return ri < rj
			}
			return newest(i, j)
		}
	case model.OrderOutpatient:
		less = func(i, j int) bool { return scheduleLess(items[i], items[j]) }
	default:
		less = newest
	}
	sort.SliceStable(items, less)

	offset, limit := filter.Offset(), filter.Limit()
	if offset >= len(items) {
		return []*model.Referral{}, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], nil
}

func scheduleLess(a, b *model.Referral) bool {
	switch {
	case a.AppointmentDate == nil:
		return false
	case b.AppointmentDate == nil:
		return true
	case !sameDay(*a.AppointmentDate, *b.AppointmentDate):
		return a.AppointmentDate.Before(*b.AppointmentDate)
	}
	var as, bs string
	if a.AppointmentSlot != nil {
		as = *a.AppointmentSlot
	}
	if b.AppointmentSlot != nil {
		bs = *b.AppointmentSlot
	}
	return as < bs
}

func (r *referralRepo) Stats(_ context.Context, filter model.ReferralFilter) (*model.ReferralStats, error) {
	r.s.mu.RLock()
	items := r.selectMatching(filter)
	r.s.mu.RUnlock()

	stats := &model.ReferralStats{ByStatus: make(map[model.ReferralStatus]int, len(model.AllStatuses))}
	for _, s := range model.AllStatuses {
		stats.ByStatus[s] = 0
	}
	for _, f := range items {
		stats.Total++
		stats.ByStatus[f.Status]++
		switch {
		case f.Attended == nil:
			stats.Unrecorded++
		case *f.Attended:
			stats.Attended++
		default:
			stats.Absent++
		}
	}
	return stats, nil
}

func (r *referralRepo) Agenda(_ context.Context, filter model.AgendaFilter) ([]*model.Referral, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	from, to := dayOf(filter.From), dayOf(filter.To)
	var out []*model.Referral
	for _, f := range r.s.data.referrals {
		if f.Status != model.StatusAgendado || f.AppointmentDate == nil {
			continue
		}
		day := dayOf(*f.AppointmentDate)
		if day.Before(from) || day.After(to) {
			continue
		}
		if filter.Physician != "" && (f.AttendingPhysician == nil || !containsFold(*f.AttendingPhysician, filter.Physician)) {
			continue
		}
		if filter.Destination != "" && (f.Destination == nil || !containsFold(*f.Destination, filter.Destination)) {
			continue
		}
		if filter.Specialty != "" && !containsFold(f.Specialty, filter.Specialty) {
			continue
		}
		out = append(out, cloneReferral(f))
	}
	sort.SliceStable(out, func(i, j int) bool { return scheduleLess(out[i], out[j]) })
	return out, nil
}

func (r *referralRepo) ScheduleOptions(_ context.Context) (*model.ScheduleOptions, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	physicians := map[string]struct{}{}
	destinations := map[string]struct{}{}
	specialties := map[string]struct{}{}
	for _, f := range r.s.data.referrals {
		if f.AttendingPhysician != nil && *f.AttendingPhysician != "" {
			physicians[*f.AttendingPhysician] = struct{}{}
		}
		if f.Destination != nil && *f.Destination != "" {
			destinations[*f.Destination] = struct{}{}
		}
		if f.Specialty != "" {
			specialties[f.Specialty] = struct{}{}
		}
	}
	return &model.ScheduleOptions{
		Physicians:   sortedKeys(physicians),
		Destinations: sortedKeys(destinations),
		Specialties:  sortedKeys(specialties),
	}, nil
}
