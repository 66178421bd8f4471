package authz

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
)

func TestLegacyPermissions(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		want    []string
	}{
		{"empty", "", nil},
		{"single", "admin", []string{model.PermAdminTotal}},
		{"separators", "VER_RELATORIOS, alterar_status;REGULACAO|ambulatorio criar_relatorios", []string{
			model.PermViewReferrals,
			model.PermAlterStatus,
			model.PermViewRegulation,
			model.PermRecordAttendance,
			model.PermCreateReferral,
		}},
		{"substring does not match", "LEGACY_ADMIN ADMINISTRADOR", nil},
		{"unknown tokens ignored", "FOO, ADMIN, BAR", []string{model.PermAdminTotal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LegacyPermissions(tt.profile)
			assert.Equal(t, len(tt.want), got.Len())
			for _, p := range tt.want {
				assert.True(t, got.Contains(p), "missing %s", p)
			}
		})
	}
}

func TestEffectivePermissionsUnionsEveryAssignedRole(t *testing.T) {
	roles := []*model.Role{
		{Name: "UBS", IsActive: true, Permissions: model.NewPermissionSet(model.PermCreateReferral)},
		{Name: "Old", IsActive: false, Permissions: model.NewPermissionSet(model.PermAlterStatus)},
		nil,
	}
	got := EffectivePermissions("REGULACAO", roles)
	assert.True(t, got.Contains(model.PermCreateReferral))
	assert.True(t, got.Contains(model.PermViewRegulation))
	assert.True(t, got.Contains(model.PermAlterStatus))
}

func TestAdminTotalGrantsEverything(t *testing.T) {
	p := &model.Principal{Permissions: model.NewPermissionSet(model.PermAdminTotal)}
	for _, name := range model.DefaultPermissions {
		assert.True(t, HasPermission(p, name), name)
	}
	assert.True(t, HasPermission(p, "not-in-catalog"))
	assert.False(t, HasPermission(nil, model.PermAccessPanel))
}

func seedUser(t *testing.T, store *memory.Store, profile string, active bool, perms ...string) *model.User {
	t.Helper()
	ctx := context.Background()
	role := &model.Role{Name: "role-" + uuid.NewString(), IsActive: true, Permissions: model.NewPermissionSet(perms...)}
	require.NoError(t, store.Roles().Create(ctx, role))
	u := &model.User{Name: "Fulano", Username: uuid.NewString(), Profile: profile, IsActive: active}
	require.NoError(t, store.Users().Create(ctx, u))
	require.NoError(t, store.Users().AssignRole(ctx, u.ID, role.ID))
	return u
}

func TestResolve(t *testing.T) {
	store := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, "test")
	e := NewEngine(store.Users(), store.Roles(), time.Minute, m)
	ctx := context.Background()

	u := seedUser(t, store, "AMBULATORIO", true, model.PermViewReferrals)
	p, err := e.Resolve(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fulano", p.DisplayName())
	assert.Len(t, p.Roles, 1)
	assert.NoError(t, e.Require(p, model.PermViewReferrals))
	assert.NoError(t, e.Require(p, model.PermRecordAttendance))

	err = e.Require(p, model.PermAlterStatus)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))
	assert.NoError(t, e.RequireAny(p, model.PermAlterStatus, model.PermViewReferrals))
	err = e.RequireAny(p, model.PermAlterStatus, model.PermManageUsers)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	assert.Equal(t, float64(3), testutil.ToFloat64(m.PermissionChecks.WithLabelValues(model.PermAlterStatus, "denied")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PermissionChecks.WithLabelValues(model.PermViewReferrals, "granted")))

	inactive := seedUser(t, store, "", false, model.PermAdminTotal)
	_, err = e.Resolve(ctx, inactive.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))

	_, err = e.Resolve(ctx, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	store := memory.New()
	e := NewEngine(store.Users(), store.Roles(), time.Minute, nil)
	ctx := context.Background()

	u := seedUser(t, store, "", true, model.PermCreateReferral)
	p, err := e.Resolve(ctx, u.ID)
	require.NoError(t, err)

	// Mutating the returned principal must not leak into the cache
	p.Permissions.Add(model.PermAdminTotal)

	extra := &model.Role{Name: "extra", IsActive: true, Permissions: model.NewPermissionSet(model.PermAlterStatus)}
	require.NoError(t, store.Roles().Create(ctx, extra))
	require.NoError(t, store.Users().AssignRole(ctx, u.ID, extra.ID))

	cached, err := e.Resolve(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, cached.Permissions.Contains(model.PermAdminTotal))
	assert.False(t, cached.Permissions.Contains(model.PermAlterStatus))

	e.Invalidate(u.ID)
	fresh, err := e.Resolve(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Permissions.Contains(model.PermAlterStatus))
}

func TestHomeSector(t *testing.T) {
	e := NewEngine(nil, nil, time.Minute, nil)
	tests := []struct {
		perms []string
		want  model.Sector
	}{
		{[]string{model.PermAlterStatus}, model.SectorRegulation},
		{[]string{model.PermViewRegulation}, model.SectorRegulation},
		{[]string{model.PermRecordAttendance}, model.SectorOutpatient},
		{[]string{model.PermCreateReferral}, model.SectorOrigin},
		{[]string{model.PermAccessPanel}, model.SectorPanel},
		{[]string{model.PermAdminTotal}, model.SectorRegulation},
	}
	for _, tt := range tests {
		p := &model.Principal{Permissions: model.NewPermissionSet(tt.perms...)}
		assert.Equal(t, tt.want, e.HomeSector(p), "%v", tt.perms)
	}
}
