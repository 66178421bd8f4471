package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
)

const defaultCacheTTL = 5 * time.Minute

// legacyTokens maps the free-text profile tokens onto catalog permissions.
var legacyTokens = map[string]string{
	"ADMIN":            model.PermAdminTotal,
	"ALTERAR_STATUS":   model.PermAlterStatus,
	"VER_RELATORIOS":   model.PermViewReferrals,
	"CRIAR_RELATORIOS": model.PermCreateReferral,
	"REGULACAO":        model.PermViewRegulation,
	"AMBULATORIO":      model.PermRecordAttendance,
}

// LegacyPermissions maps the tokens of a profile string onto permissions.
// Tokens are separated by whitespace, commas, semicolons or pipes and must
// match exactly (case-insensitive).
func LegacyPermissions(profile string) model.PermissionSet {
	var set model.PermissionSet
	tokens := strings.FieldsFunc(profile, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ';', '|':
			return true
		}
		return false
	})
	for _, tok := range tokens {
		if perm, ok := legacyTokens[strings.ToUpper(tok)]; ok {
			set.Add(perm)
		}
	}
	return set
}

// EffectivePermissions is the union of the permissions of every assigned
// role plus the permissions mapped from the legacy profile. The role active
// flag does not narrow the set.
func EffectivePermissions(profile string, roles []*model.Role) model.PermissionSet {
	var set model.PermissionSet
	for _, r := range roles {
		if r == nil {
			continue
		}
		set = set.Union(r.Permissions)
	}
	return set.Union(LegacyPermissions(profile))
}

// HasPermission reports whether p holds name directly or through admin-total.
func HasPermission(p *model.Principal, name string) bool {
	if p == nil {
		return false
	}
	return p.Permissions.Contains(model.PermAdminTotal) || p.Permissions.Contains(name)
}

// Engine resolves principals and answers permission checks.
type Engine struct {
	users   repository.UserRepository
	roles   repository.RoleRepository
	cache   *cache.Cache
	metrics *metrics.Metrics
}

func NewEngine(users repository.UserRepository, roles repository.RoleRepository, ttl time.Duration, m *metrics.Metrics) *Engine {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Engine{
		users:   users,
		roles:   roles,
		cache:   cache.New(ttl, 2*ttl),
		metrics: m,
	}
}

// Resolve loads the user and builds its principal with the effective
// permission set. Inactive or unknown users are Unauthorized.
func (e *Engine) Resolve(ctx context.Context, userID uuid.UUID) (*model.Principal, error) {
	key := userID.String()
	if cached, ok := e.cache.Get(key); ok {
		return cached.(*model.Principal).Clone(), nil
	}

	user, err := e.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Unauthorized(fmt.Errorf("unknown user %s", userID))
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load user: %w", err))
	}
	if !user.IsActive {
		return nil, apperrors.Unauthorized(fmt.Errorf("user %s is inactive", userID))
	}

	roles, err := e.roles.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to load user roles: %w", err))
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	p := &model.Principal{
		UserID:      user.ID,
		Username:    user.Username,
		Name:        user.Name,
		Roles:       names,
		Permissions: EffectivePermissions(user.Profile, roles),
	}

	e.cache.SetDefault(key, p.Clone())
	return p, nil
}

func (e *Engine) HasPermission(p *model.Principal, name string) bool {
	ok := HasPermission(p, name)
	if e.metrics != nil {
		result := "denied"
		if ok {
			result = "granted"
		}
		e.metrics.PermissionChecks.WithLabelValues(name, result).Inc()
	}
	return ok
}

// Require returns Forbidden unless p holds name.
func (e *Engine) Require(p *model.Principal, name string) error {
	if !e.HasPermission(p, name) {
		return apperrors.Forbidden(name)
	}
	return nil
}

// RequireAny returns Forbidden unless p holds at least one of names.
func (e *Engine) RequireAny(p *model.Principal, names ...string) error {
	for _, n := range names {
		if e.HasPermission(p, n) {
			return nil
		}
	}
	if len(names) == 1 {
		return apperrors.Forbidden(names[0])
	}
	return apperrors.ForbiddenMsg(fmt.Sprintf("one of %s required", strings.Join(names, ", ")))
}

// HomeSector picks the workflow area the principal works in.
func (e *Engine) HomeSector(p *model.Principal) model.Sector {
	switch {
	case HasPermission(p, model.PermAlterStatus) || HasPermission(p, model.PermViewRegulation):
		return model.SectorRegulation
	case HasPermission(p, model.PermViewReferrals) || HasPermission(p, model.PermRecordAttendance):
		return model.SectorOutpatient
	case HasPermission(p, model.PermCreateReferral):
		return model.SectorOrigin
	}
	return model.SectorPanel
}

// Invalidate drops the cached principal of one user.
func (e *Engine) Invalidate(userID uuid.UUID) {
	e.cache.Delete(userID.String())
}

// Flush drops every cached principal.
func (e *Engine) Flush() {
	e.cache.Flush()
}
