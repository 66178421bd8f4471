package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

type permissionRepository struct {
	BaseRepository
}

func NewPermissionRepository(db *sqlx.DB) repository.PermissionRepository {
	return &permissionRepository{NewBaseRepository(db)}
}

func (r *permissionRepository) Create(ctx context.Context, name string) error {
	query := `INSERT INTO permission_catalog (name, created_at) VALUES ($1, $2)`
	if _, err := r.conn(ctx).ExecContext(ctx, query, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create permission: %w", mapError(err))
	}
	return nil
}

func (r *permissionRepository) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM permission_catalog WHERE name = $1)`
	if err := r.conn(ctx).GetContext(ctx, &exists, query, name); err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return exists, nil
}

func (r *permissionRepository) Delete(ctx context.Context, name string) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM permission_catalog WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return checkAffected(res)
}

func (r *permissionRepository) List(ctx context.Context) ([]*model.Permission, error) {
	var perms []*model.Permission
	query := `SELECT name, created_at FROM permission_catalog ORDER BY name ASC`
	if err := r.conn(ctx).SelectContext(ctx, &perms, query); err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	return perms, nil
}
