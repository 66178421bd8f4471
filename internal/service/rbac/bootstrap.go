package rbac

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
)

type defaultRole struct {
	name        string
	description string
	sector      string
	permissions []string
}

var defaultRoles = []defaultRole{
	{
		name:        model.RoleAdministrador,
		description: "Acesso total ao sistema",
		sector:      "TI",
		permissions: []string{model.PermAdminTotal},
	},
	{
		name:        model.RoleUsuario,
		description: "Acesso básico ao painel",
		sector:      "GERAL",
		permissions: []string{model.PermAccessPanel, model.PermChangePassword},
	},
}

// Bootstrap ensures the default catalog and roles exist. It is idempotent
// and returns the administrator role.
func (s *Service) Bootstrap(ctx context.Context) (*model.Role, error) {
	var admin *model.Role
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, name := range model.DefaultPermissions {
			exists, err := s.permissions.Exists(ctx, name)
			if err != nil {
				return apperrors.Internal(err)
			}
			if exists {
				continue
			}
			if err := s.permissions.Create(ctx, name); err != nil {
				return apperrors.Internal(err)
			}
			log.Info().Str("permission", name).Msg("bootstrap: permission created")
		}

		for _, def := range defaultRoles {
			role, err := s.roles.GetByName(ctx, def.name)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				role, err = s.createRole(ctx, CreateRoleInput{
					Name:        def.name,
					Description: def.description,
					Sector:      def.sector,
					Permissions: def.permissions,
				})
				if err != nil {
					return err
				}
				log.Info().Str("role", role.Name).Msg("bootstrap: role created")
			case err != nil:
				return apperrors.Internal(err)
			case role.IsAdministrator():
				perms, err := s.administratorPermissions(ctx)
				if err != nil {
					return err
				}
				if !role.Permissions.Equal(perms) {
					if err := s.roles.UpdatePermissions(ctx, role.ID, perms); err != nil {
						return apperrors.Internal(err)
					}
					role.Permissions = perms
				}
			}
			if role.IsAdministrator() {
				admin = role
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Flush()
	return admin, nil
}
