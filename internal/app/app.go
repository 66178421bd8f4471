// Package app wires repositories into the service graph shared by the
// API, the worker and the admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/sisreg-api/internal/config"
	"github.com/jwalitptl/sisreg-api/internal/repository"
	"github.com/jwalitptl/sisreg-api/internal/repository/memory"
	"github.com/jwalitptl/sisreg-api/internal/repository/postgres"
	"github.com/jwalitptl/sisreg-api/internal/service/audit"
	authService "github.com/jwalitptl/sisreg-api/internal/service/auth"
	"github.com/jwalitptl/sisreg-api/internal/service/authz"
	"github.com/jwalitptl/sisreg-api/internal/service/event"
	rbacService "github.com/jwalitptl/sisreg-api/internal/service/rbac"
	referralService "github.com/jwalitptl/sisreg-api/internal/service/referral"
	userService "github.com/jwalitptl/sisreg-api/internal/service/user"
	"github.com/jwalitptl/sisreg-api/pkg/auth"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
	"github.com/jwalitptl/sisreg-api/pkg/security"
)

type Stores struct {
	Tx          repository.Transactor
	Permissions repository.PermissionRepository
	Roles       repository.RoleRepository
	Users       repository.UserRepository
	Referrals   repository.ReferralRepository
	Audit       repository.AuditRepository
	Outbox      repository.OutboxRepository
}

func PostgresStores(db *sqlx.DB) Stores {
	return Stores{
		Tx:          postgres.NewTransactor(db),
		Permissions: postgres.NewPermissionRepository(db),
		Roles:       postgres.NewRoleRepository(db),
		Users:       postgres.NewUserRepository(db),
		Referrals:   postgres.NewReferralRepository(db),
		Audit:       postgres.NewAuditRepository(db),
		Outbox:      postgres.NewOutboxRepository(db),
	}
}

func MemoryStores(s *memory.Store) Stores {
	return Stores{
		Tx:          s.Transactor(),
		Permissions: s.Permissions(),
		Roles:       s.Roles(),
		Users:       s.Users(),
		Referrals:   s.Referrals(),
		Audit:       s.Audit(),
		Outbox:      s.Outbox(),
	}
}

type Services struct {
	Stores    Stores
	Authz     *authz.Engine
	Auditor   *audit.Service
	RBAC      *rbacService.Service
	Users     *userService.Service
	Auth      *authService.Service
	Referrals *referralService.Service
}

// NewServices builds the service graph over st. m may be nil.
func NewServices(st Stores, cfg *config.Config, m *metrics.Metrics) (*Services, error) {
	jwtSvc, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwt service: %w", err)
	}
	hasher := security.NewBcryptHasher(cfg.Authz.BcryptCost)

	engine := authz.NewEngine(st.Users, st.Roles, cfg.Authz.CacheTTL, m)
	auditor := audit.NewService(st.Audit, audit.LoadLocation(cfg.Audit.Timezone))
	events := event.NewEventService(st.Outbox)

	return &Services{
		Stores:    st,
		Authz:     engine,
		Auditor:   auditor,
		RBAC:      rbacService.NewService(st.Tx, st.Permissions, st.Roles, st.Users, engine, engine),
		Users:     userService.NewService(st.Tx, st.Users, st.Roles, hasher, engine),
		Auth:      authService.NewService(st.Users, jwtSvc, hasher),
		Referrals: referralService.NewService(st.Tx, st.Referrals, auditor, events, engine, m),
	}, nil
}

// Bootstrap seeds the permission catalog and default roles, then ensures
// the configured administrator account exists.
func (s *Services) Bootstrap(ctx context.Context, cfg config.BootstrapConfig) error {
	if _, err := s.RBAC.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap roles: %w", err)
	}
	if cfg.AdminPassword == "" {
		return nil
	}
	if _, err := s.Users.EnsureAdmin(ctx, userService.AdminSeed{
		Name:     cfg.AdminName,
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	}); err != nil {
		return fmt.Errorf("failed to ensure admin user: %w", err)
	}
	return nil
}
