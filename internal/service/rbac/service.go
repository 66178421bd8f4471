package rbac

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

// Authorizer answers permission checks for an explicit principal.
type Authorizer interface {
	Require(p *model.Principal, permission string) error
}

// Invalidator drops cached permission sets after catalog or role changes.
type Invalidator interface {
	Flush()
	Invalidate(userID uuid.UUID)
}

type Service struct {
	tx          repository.Transactor
	permissions repository.PermissionRepository
	roles       repository.RoleRepository
	users       repository.UserRepository
	authz       Authorizer
	cache       Invalidator
}

func NewService(
	tx repository.Transactor,
	permissions repository.PermissionRepository,
	roles repository.RoleRepository,
	users repository.UserRepository,
	authz Authorizer,
	cache Invalidator,
) *Service {
	return &Service{
		tx:          tx,
		permissions: permissions,
		roles:       roles,
		users:       users,
		authz:       authz,
		cache:       cache,
	}
}

type CreateRoleInput struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Sector      string   `json:"sector"`
	Permissions []string `json:"permissions"`
}

func (s *Service) requireAdmin(actor *model.Principal) error {
	return s.authz.Require(actor, model.PermAdminTotal)
}

func (s *Service) AddPermission(ctx context.Context, actor *model.Principal, name string) (*model.Permission, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := s.addPermission(ctx, name); err != nil {
		return nil, err
	}
	log.Info().Str("permission", name).Str("actor_id", actor.UserID.String()).Msg("permission added")
	return &model.Permission{Name: name}, nil
}

func (s *Service) addPermission(ctx context.Context, name string) error {
	if !validator.IsKebab(name) {
		return apperrors.Validationf("invalid permission name %q: must be kebab-case", name)
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.permissions.Exists(ctx, name)
		if err != nil {
			return apperrors.Internal(err)
		}
		if exists {
			return apperrors.AlreadyExists(fmt.Sprintf("permission %q", name))
		}
		if err := s.permissions.Create(ctx, name); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.AlreadyExists(fmt.Sprintf("permission %q", name))
			}
			return apperrors.Internal(err)
		}
		return nil
	})
}

// RemovePermission deletes name from the catalog and from every role.
func (s *Service) RemovePermission(ctx context.Context, actor *model.Principal, name string) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == model.PermAdminTotal {
		return apperrors.Protected(fmt.Sprintf("permission %q cannot be removed", name))
	}

	var stripped int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.permissions.Delete(ctx, name); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound(fmt.Sprintf("permission %q", name), err)
			}
			return apperrors.Internal(err)
		}
		n, err := s.roles.StripPermission(ctx, name)
		if err != nil {
			return apperrors.Internal(err)
		}
		stripped = n
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Flush()
	log.Info().
		Str("permission", name).
		Int64("roles_updated", stripped).
		Str("actor_id", actor.UserID.String()).
		Msg("permission removed")
	return nil
}

func (s *Service) ListPermissions(ctx context.Context, actor *model.Principal) ([]*model.Permission, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	perms, err := s.permissions.List(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return perms, nil
}

// catalogFilter keeps only catalog-known permissions. Unknown names are
// dropped without error.
func (s *Service) catalogFilter(ctx context.Context, names []string) (model.PermissionSet, error) {
	catalog, err := s.permissions.List(ctx)
	if err != nil {
		return model.PermissionSet{}, apperrors.Internal(err)
	}
	known := make(map[string]struct{}, len(catalog))
	for _, p := range catalog {
		known[p.Name] = struct{}{}
	}
	requested := model.NewPermissionSet(trimAll(names)...)
	return requested.Filter(func(n string) bool {
		_, ok := known[n]
		return ok
	}), nil
}

// administratorPermissions is the only set the administrator role may hold:
// {admin-total} when it is in the catalog, otherwise empty.
func (s *Service) administratorPermissions(ctx context.Context) (model.PermissionSet, error) {
	exists, err := s.permissions.Exists(ctx, model.PermAdminTotal)
	if err != nil {
		return model.PermissionSet{}, apperrors.Internal(err)
	}
	if exists {
		return model.NewPermissionSet(model.PermAdminTotal), nil
	}
	return model.PermissionSet{}, nil
}

func (s *Service) resolvePermissions(ctx context.Context, roleName string, names []string) (model.PermissionSet, error) {
	if model.IsAdministratorName(roleName) {
		return s.administratorPermissions(ctx)
	}
	return s.catalogFilter(ctx, names)
}

func (s *Service) CreateRole(ctx context.Context, actor *model.Principal, in CreateRoleInput) (*model.Role, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	role, err := s.createRole(ctx, in)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("role_id", role.ID.String()).
		Str("role", role.Name).
		Strs("permissions", role.Permissions.Names()).
		Str("actor_id", actor.UserID.String()).
		Msg("role created")
	return role, nil
}

func (s *Service) createRole(ctx context.Context, in CreateRoleInput) (*model.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.Validation("role name is required")
	}

	var role *model.Role
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.roles.GetByName(ctx, name); err == nil {
			return apperrors.AlreadyExists(fmt.Sprintf("role %q", name))
		} else if !errors.Is(err, repository.ErrNotFound) {
			return apperrors.Internal(err)
		}

		perms, err := s.resolvePermissions(ctx, name, in.Permissions)
		if err != nil {
			return err
		}

		role = &model.Role{
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			Sector:      strings.TrimSpace(in.Sector),
			Permissions: perms,
			IsActive:    true,
		}
		if err := s.roles.Create(ctx, role); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.AlreadyExists(fmt.Sprintf("role %q", name))
			}
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// SetRolePermissions replaces the role's permission set with the
// catalog-known subset of names. The administrator role always ends up
// with exactly {admin-total}.
func (s *Service) SetRolePermissions(ctx context.Context, actor *model.Principal, roleID uuid.UUID, names []string) (*model.Role, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}

	var role *model.Role
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		role, err = s.roles.Get(ctx, roleID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound("role", err)
			}
			return apperrors.Internal(err)
		}

		perms, err := s.resolvePermissions(ctx, role.Name, names)
		if err != nil {
			return err
		}
		if err := s.roles.UpdatePermissions(ctx, role.ID, perms); err != nil {
			return apperrors.Internal(err)
		}
		role.Permissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Flush()
	log.Info().
		Str("role_id", role.ID.String()).
		Strs("permissions", role.Permissions.Names()).
		Str("actor_id", actor.UserID.String()).
		Msg("role permissions updated")
	return role, nil
}

// DeleteRole detaches the role from every user and deletes it.
func (s *Service) DeleteRole(ctx context.Context, actor *model.Principal, roleID uuid.UUID) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		role, err := s.roles.Get(ctx, roleID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound("role", err)
			}
			return apperrors.Internal(err)
		}
		if role.IsAdministrator() {
			return apperrors.Protected(fmt.Sprintf("role %q cannot be deleted", role.Name))
		}
		if err := s.roles.DetachFromUsers(ctx, roleID); err != nil {
			return apperrors.Internal(err)
		}
		if err := s.roles.Delete(ctx, roleID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Flush()
	log.Info().Str("role_id", roleID.String()).Str("actor_id", actor.UserID.String()).Msg("role deleted")
	return nil
}

func (s *Service) ListRoles(ctx context.Context, actor *model.Principal) ([]*model.Role, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return roles, nil
}

// AssignRole attaches the role to the user. Assigning twice is a no-op.
func (s *Service) AssignRole(ctx context.Context, actor *model.Principal, userID, roleID uuid.UUID) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	if err := s.assignRole(ctx, userID, roleID); err != nil {
		return err
	}
	log.Info().
		Str("user_id", userID.String()).
		Str("role_id", roleID.String()).
		Str("actor_id", actor.UserID.String()).
		Msg("role assigned")
	return nil
}

func (s *Service) assignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureUserAndRole(ctx, userID, roleID); err != nil {
			return err
		}
		if err := s.users.AssignRole(ctx, userID, roleID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	return nil
}

func (s *Service) UnassignRole(ctx context.Context, actor *model.Principal, userID, roleID uuid.UUID) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureUserAndRole(ctx, userID, roleID); err != nil {
			return err
		}
		if err := s.users.UnassignRole(ctx, userID, roleID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(userID)
	log.Info().
		Str("user_id", userID.String()).
		Str("role_id", roleID.String()).
		Str("actor_id", actor.UserID.String()).
		Msg("role unassigned")
	return nil
}

func (s *Service) ensureUserAndRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if _, err := s.users.Get(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("user", err)
		}
		return apperrors.Internal(err)
	}
	if _, err := s.roles.Get(ctx, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("role", err)
		}
		return apperrors.Internal(err)
	}
	return nil
}

func trimAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
