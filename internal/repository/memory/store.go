// Package memory is an in-process implementation of the repository
// interfaces. Transactions serialize on a store-wide lock and roll back by
// restoring a snapshot.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

type txKey struct{}

type state struct {
	permissions map[string]time.Time
	roles       map[uuid.UUID]*model.Role
	users       map[uuid.UUID]*model.User
	userRoles   map[uuid.UUID]map[uuid.UUID]struct{}
	referrals   map[uuid.UUID]*model.Referral
	audit       []*model.AuditEntry
	outbox      []*model.OutboxEvent
}

func newState() *state {
	return &state{
		permissions: map[string]time.Time{},
		roles:       map[uuid.UUID]*model.Role{},
		users:       map[uuid.UUID]*model.User{},
		userRoles:   map[uuid.UUID]map[uuid.UUID]struct{}{},
		referrals:   map[uuid.UUID]*model.Referral{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = cloneRole(v)
	}
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range s.userRoles {
		m := make(map[uuid.UUID]struct{}, len(v))
		for r := range v {
			m[r] = struct{}{}
		}
		c.userRoles[k] = m
	}
	for k, v := range s.referrals {
		c.referrals[k] = cloneReferral(v)
	}
	for _, e := range s.audit {
		cp := *e
		c.audit = append(c.audit, &cp)
	}
	for _, e := range s.outbox {
		cp := *e
		c.outbox = append(c.outbox, &cp)
	}
	return c
}

// Store holds every table. The zero value is not usable; call New.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// WithinTx implements repository.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// SetClock replaces the time source used for generated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Transactor() repository.Transactor { return s }

func (s *Store) Permissions() repository.PermissionRepository { return &permissionRepo{s} }

func (s *Store) Roles() repository.RoleRepository { return &roleRepo{s} }

func (s *Store) Users() repository.UserRepository { return &userRepo{s} }

func (s *Store) Referrals() repository.ReferralRepository { return &referralRepo{s} }

func (s *Store) Audit() repository.AuditRepository { return &auditRepo{s} }

func (s *Store) Outbox() repository.OutboxRepository { return &outboxRepo{s} }

// OutboxEvents returns a copy of every stored event in insertion order.
func (s *Store) OutboxEvents() []*model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.OutboxEvent, 0, len(s.data.outbox))
	for _, e := range s.data.outbox {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func cloneRole(r *model.Role) *model.Role {
	c := *r
	c.Permissions = model.NewPermissionSet(r.Permissions.Names()...)
	return &c
}

func cloneReferral(r *model.Referral) *model.Referral {
	c := *r
	c.Attachment = cloneStr(r.Attachment)
	c.Notes = cloneStr(r.Notes)
	c.AttendingPhysician = cloneStr(r.AttendingPhysician)
	c.AppointmentSlot = cloneStr(r.AppointmentSlot)
	c.Destination = cloneStr(r.Destination)
	c.DenialJustification = cloneStr(r.DenialJustification)
	c.ProcedureOutcome = cloneStr(r.ProcedureOutcome)
	if r.AppointmentDate != nil {
		d := *r.AppointmentDate
		c.AppointmentDate = &d
	}
	if r.AuthorizerID != nil {
		id := *r.AuthorizerID
		c.AuthorizerID = &id
	}
	if r.Attended != nil {
		a := *r.Attended
		c.Attended = &a
	}
	return &c
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
