package user

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
	"github.com/jwalitptl/sisreg-api/pkg/security"
)

type Authorizer interface {
	Require(p *model.Principal, permission string) error
	HasPermission(p *model.Principal, permission string) bool
}

type CreateUserInput struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Profile  string `json:"profile"`
}

// AdminSeed describes the administrator account ensured at bootstrap.
type AdminSeed struct {
	Name     string
	Username string
	Email    string
	Password string
}

type Service struct {
	tx     repository.Transactor
	users  repository.UserRepository
	roles  repository.RoleRepository
	hasher security.PasswordHasher
	authz  Authorizer
}

func NewService(tx repository.Transactor, users repository.UserRepository, roles repository.RoleRepository, hasher security.PasswordHasher, authz Authorizer) *Service {
	return &Service{
		tx:     tx,
		users:  users,
		roles:  roles,
		hasher: hasher,
		authz:  authz,
	}
}

func (s *Service) CreateUser(ctx context.Context, actor *model.Principal, in CreateUserInput) (*model.User, error) {
	if err := s.authz.Require(actor, model.PermManageUsers); err != nil {
		return nil, err
	}
	u, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	log.Info().Str("user_id", u.ID.String()).Str("actor_id", actor.UserID.String()).Msg("user created")
	return u, nil
}

func (s *Service) create(ctx context.Context, in CreateUserInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Username == "" || in.Name == "" {
		return nil, apperrors.Validation("name and username are required")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordShort) {
			return nil, apperrors.Validationf("password must have at least %d characters", security.MinPasswordLen)
		}
		return nil, apperrors.Internal(err)
	}

	email := in.Email
	if email == "" {
		email = in.Username
	}
	u := &model.User{
		Name:         in.Name,
		Username:     in.Username,
		Email:        email,
		PasswordHash: hash,
		Profile:      strings.TrimSpace(in.Profile),
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.AlreadyExists(fmt.Sprintf("user %q", in.Username))
		}
		return nil, apperrors.Internal(err)
	}
	return u, nil
}

// GetUser returns the user with its roles. Users may always read
// themselves; reading others needs view-users.
func (s *Service) GetUser(ctx context.Context, actor *model.Principal, id uuid.UUID) (*model.User, error) {
	if actor == nil || actor.UserID != id {
		if err := s.authz.Require(actor, model.PermViewUsers); err != nil {
			return nil, err
		}
	}
	u, err := s.users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("user", err)
		}
		return nil, apperrors.Internal(err)
	}
	roles, err := s.roles.ListByUser(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	u.Roles = roles
	return u, nil
}

// EnsureAdmin creates the administrator account when missing and makes
// sure it holds the Administrador role. The role must already exist.
func (s *Service) EnsureAdmin(ctx context.Context, seed AdminSeed) (*model.User, error) {
	var admin *model.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		role, err := s.roles.GetByName(ctx, model.RoleAdministrador)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NotFound("role "+model.RoleAdministrador, err)
			}
			return apperrors.Internal(err)
		}

		admin, err = s.users.GetByUsername(ctx, seed.Username)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			name := seed.Name
			if name == "" {
				name = "Administrador"
			}
			admin, err = s.create(ctx, CreateUserInput{
				Name:     name,
				Username: seed.Username,
				Email:    seed.Email,
				Password: seed.Password,
			})
			if err != nil {
				return err
			}
			log.Info().Str("user_id", admin.ID.String()).Str("username", admin.Username).Msg("bootstrap: admin user created")
		case err != nil:
			return apperrors.Internal(err)
		}

		if err := s.users.AssignRole(ctx, admin.ID, role.ID); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return admin, nil
}
