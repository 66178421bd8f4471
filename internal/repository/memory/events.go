package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

type auditRepo struct{ s *Store }

func (r *auditRepo) Append(_ context.Context, e *model.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.referrals[e.ReferralID]; !ok {
		return fmt.Errorf("audit entry references unknown referral %s", e.ReferralID)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.s.now()
	}
	cp := *e
	r.s.data.audit = append(r.s.data.audit, &cp)
	return nil
}

func (r *auditRepo) ListByReferral(_ context.Context, referralID uuid.UUID) ([]*model.AuditEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.AuditEntry
	for _, e := range r.s.data.audit {
		if e.ReferralID == referralID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *auditRepo) Latest(_ context.Context, referralID uuid.UUID, action model.AuditAction) (*model.AuditEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.data.audit) - 1; i >= 0; i-- {
		e := r.s.data.audit[i]
		if e.ReferralID == referralID && e.Action == action {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Create(_ context.Context, event *model.OutboxEvent) error {
	if event == nil || event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	event.ID = uuid.New()
	event.CreatedAt = r.s.now()
	event.UpdatedAt = event.CreatedAt
	event.Status = model.OutboxStatusPending
	cp := *event
	r.s.data.outbox = append(r.s.data.outbox, &cp)
	return nil
}

func (r *outboxRepo) ClaimPendingEvents(_ context.Context, limit int, leaseUntil time.Time) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var out []*model.OutboxEvent
	for _, e := range r.s.data.outbox {
		if len(out) >= limit {
			break
		}
		if !claimable(e, now) {
			continue
		}
		lease := leaseUntil
		e.Status = model.OutboxStatusProcessing
		e.RetryAt = &lease
		e.UpdatedAt = now
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func claimable(e *model.OutboxEvent, now time.Time) bool {
	switch e.Status {
	case model.OutboxStatusPending:
		return e.RetryAt == nil || !e.RetryAt.After(now)
	case model.OutboxStatusProcessing:
		return e.RetryAt != nil && !e.RetryAt.After(now)
	}
	return false
}

func (r *outboxRepo) find(id uuid.UUID) (*model.OutboxEvent, error) {
	for _, e := range r.s.data.outbox {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *outboxRepo) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, err := r.find(id)
	if err != nil {
		return err
	}
	now := r.s.now()
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &now
	e.UpdatedAt = now
	e.ErrorMessage = nil
	return nil
}

func (r *outboxRepo) MarkRetry(_ context.Context, id uuid.UUID, errorMessage string, retryAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, err := r.find(id)
	if err != nil {
		return err
	}
	e.Status = model.OutboxStatusPending
	e.RetryCount++
	e.ErrorMessage = &errorMessage
	e.RetryAt = &retryAt
	e.UpdatedAt = r.s.now()
	return nil
}

func (r *outboxRepo) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, err := r.find(id)
	if err != nil {
		return err
	}
	e.Status = model.OutboxStatusFailed
	e.RetryCount++
	e.ErrorMessage = &errorMessage
	e.UpdatedAt = r.s.now()
	return nil
}

func (r *outboxRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	kept := r.s.data.outbox[:0]
	for _, e := range r.s.data.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.data.outbox = kept
	return n, nil
}
