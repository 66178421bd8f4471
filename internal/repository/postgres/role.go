package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

const roleColumns = `r.id, r.name, r.description, r.sector, r.permissions, r.is_active, r.created_at, r.updated_at`

type roleRow struct {
	model.Role
	Perms pq.StringArray `db:"permissions"`
}

func (row *roleRow) toModel() *model.Role {
	role := row.Role
	role.Permissions = model.NewPermissionSet(row.Perms...)
	return &role
}

func toRoles(rows []roleRow) []*model.Role {
	roles := make([]*model.Role, 0, len(rows))
	for i := range rows {
		roles = append(roles, rows[i].toModel())
	}
	return roles
}

type roleRepository struct {
	BaseRepository
}

func NewRoleRepository(db *sqlx.DB) repository.RoleRepository {
	return &roleRepository{NewBaseRepository(db)}
}

func (r *roleRepository) Create(ctx context.Context, role *model.Role) error {
	query := `
		INSERT INTO roles (id, name, description, sector, permissions, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	_, err := r.conn(ctx).ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.Sector,
		pq.StringArray(role.Permissions.Names()),
		role.IsActive,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", mapError(err))
	}
	return nil
}

func (r *roleRepository) Get(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var row roleRow
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.id = $1`
	if err := r.conn(ctx).GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError(err)
	}
	return row.toModel(), nil
}

func (r *roleRepository) GetByName(ctx context.Context, name string) (*model.Role, error) {
	var row roleRow
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.name = $1`
	if err := r.conn(ctx).GetContext(ctx, &row, query, name); err != nil {
		return nil, mapError(err)
	}
	return row.toModel(), nil
}

func (r *roleRepository) List(ctx context.Context) ([]*model.Role, error) {
	var rows []roleRow
	query := `SELECT ` + roleColumns + ` FROM roles r ORDER BY r.name ASC`
	if err := r.conn(ctx).SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return toRoles(rows), nil
}

func (r *roleRepository) UpdatePermissions(ctx context.Context, id uuid.UUID, permissions model.PermissionSet) error {
	query := `UPDATE roles SET permissions = $1, updated_at = $2 WHERE id = $3`
	res, err := r.conn(ctx).ExecContext(ctx, query, pq.StringArray(permissions.Names()), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update role permissions: %w", err)
	}
	return checkAffected(res)
}

func (r *roleRepository) StripPermission(ctx context.Context, name string) (int64, error) {
	query := `
		UPDATE roles
		SET permissions = array_remove(permissions, $1), updated_at = $2
		WHERE $1 = ANY(permissions)
	`
	res, err := r.conn(ctx).ExecContext(ctx, query, name, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to strip permission from roles: %w", err)
	}
	return res.RowsAffected()
}

func (r *roleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return checkAffected(res)
}

func (r *roleRepository) DetachFromUsers(ctx context.Context, roleID uuid.UUID) error {
	if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to detach role from users: %w", err)
	}
	return nil
}

func (r *roleRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Role, error) {
	var rows []roleRow
	query := `
		SELECT ` + roleColumns + `
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name ASC
	`
	if err := r.conn(ctx).SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	return toRoles(rows), nil
}
