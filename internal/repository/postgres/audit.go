package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

const auditColumns = `id, referral_id, created_at, actor_id, actor_name, action, payload, note`

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(db *sqlx.DB) repository.AuditRepository {
	return &auditRepository{NewBaseRepository(db)}
}

func (r *auditRepository) Append(ctx context.Context, e *model.AuditEntry) error {
	query := `
		INSERT INTO referral_audit_entries (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).ExecContext(ctx, query,
		e.ID,
		e.ReferralID,
		e.CreatedAt,
		e.ActorID,
		e.ActorName,
		e.Action,
		e.Payload,
		e.Note,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", mapError(err))
	}
	return nil
}

func (r *auditRepository) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*model.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM referral_audit_entries
		WHERE referral_id = $1
		ORDER BY created_at ASC, seq ASC
	`
	var entries []*model.AuditEntry
	if err := r.conn(ctx).SelectContext(ctx, &entries, query, referralID); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

func (r *auditRepository) Latest(ctx context.Context, referralID uuid.UUID, action model.AuditAction) (*model.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM referral_audit_entries
		WHERE referral_id = $1 AND action = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`
	var e model.AuditEntry
	if err := r.conn(ctx).GetContext(ctx, &e, query, referralID, action); err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}
