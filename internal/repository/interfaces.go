package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned on a unique key violation.
	ErrDuplicate = errors.New("duplicate key")
	// ErrScheduleTaken is returned when another scheduled referral already
	// holds the date, slot and physician or destination.
	ErrScheduleTaken = errors.New("schedule slot already taken")
)

// All repository interfaces in one file
type (
	// Transactor runs fn inside a database transaction carried by ctx.
	// Repositories called with that ctx join the transaction. Nested calls
	// reuse the outer transaction.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	PermissionRepository interface {
		Create(ctx context.Context, name string) error
		Exists(ctx context.Context, name string) (bool, error)
		Delete(ctx context.Context, name string) error
		List(ctx context.Context) ([]*model.Permission, error)
	}

	RoleRepository interface {
		Create(ctx context.Context, role *model.Role) error
		Get(ctx context.Context, id uuid.UUID) (*model.Role, error)
		GetByName(ctx context.Context, name string) (*model.Role, error)
		List(ctx context.Context) ([]*model.Role, error)
		UpdatePermissions(ctx context.Context, id uuid.UUID, permissions model.PermissionSet) error
		// StripPermission removes name from every role and returns how many
		// roles changed.
		StripPermission(ctx context.Context, name string) (int64, error)
		Delete(ctx context.Context, id uuid.UUID) error
		// DetachFromUsers removes every user assignment of the role.
		DetachFromUsers(ctx context.Context, roleID uuid.UUID) error
		ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Role, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByUsername(ctx context.Context, username string) (*model.User, error)
		UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
		AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
		UnassignRole(ctx context.Context, userID, roleID uuid.UUID) error
	}

	ReferralRepository interface {
		Create(ctx context.Context, referral *model.Referral) error
		Get(ctx context.Context, id uuid.UUID) (*model.Referral, error)
		// GetForUpdate loads the referral and locks its row until the
		// surrounding transaction ends.
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Referral, error)
		Update(ctx context.Context, referral *model.Referral) error
		Delete(ctx context.Context, id uuid.UUID) error
		// CountScheduleConflicts counts other AGENDADO referrals sharing the
		// date and slot whose physician or destination matches.
		CountScheduleConflicts(ctx context.Context, excludeID uuid.UUID, schedule model.Schedule) (int, error)
		List(ctx context.Context, filter model.ReferralFilter) ([]*model.Referral, error)
		Stats(ctx context.Context, filter model.ReferralFilter) (*model.ReferralStats, error)
		Agenda(ctx context.Context, filter model.AgendaFilter) ([]*model.Referral, error)
		ScheduleOptions(ctx context.Context) (*model.ScheduleOptions, error)
	}

	AuditRepository interface {
		Append(ctx context.Context, entry *model.AuditEntry) error
		ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*model.AuditEntry, error)
		// Latest returns the newest entry of the given action, or ErrNotFound.
		Latest(ctx context.Context, referralID uuid.UUID, action model.AuditAction) (*model.AuditEntry, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// ClaimPendingEvents moves up to limit due events to PROCESSING until
		// leaseUntil and returns them oldest first. Events whose claim
		// expired are due again.
		ClaimPendingEvents(ctx context.Context, limit int, leaseUntil time.Time) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		// MarkRetry records the failure and schedules another attempt.
		MarkRetry(ctx context.Context, id uuid.UUID, errorMessage string, retryAt time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
