package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository/memory"
	"github.com/jwalitptl/sisreg-api/internal/service/authz"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
)

type fixture struct {
	store  *memory.Store
	engine *authz.Engine
	svc    *Service
	admin  *model.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	engine := authz.NewEngine(store.Users(), store.Roles(), time.Minute, nil)
	svc := NewService(store.Transactor(), store.Permissions(), store.Roles(), store.Users(), engine, engine)

	_, err := svc.Bootstrap(context.Background())
	require.NoError(t, err)

	return &fixture{
		store:  store,
		engine: engine,
		svc:    svc,
		admin: &model.Principal{
			UserID:      uuid.New(),
			Username:    "admin",
			Permissions: model.NewPermissionSet(model.PermAdminTotal),
		},
	}
}

func (f *fixture) user(t *testing.T, username string) *model.User {
	t.Helper()
	u := &model.User{Name: username, Username: username, Email: username + "@example.com", IsActive: true}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func assertCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, code), "unexpected error: %v", err)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.svc.Bootstrap(ctx)
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, model.RoleAdministrador, admin.Name)
	assert.Equal(t, []string{model.PermAdminTotal}, admin.Permissions.Names())

	perms, err := f.svc.ListPermissions(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, perms, len(model.DefaultPermissions))

	roles, err := f.svc.ListRoles(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
}

func TestBootstrapRepairsAdministratorRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.store.Roles().GetByName(ctx, model.RoleAdministrador)
	require.NoError(t, err)
	require.NoError(t, f.store.Roles().UpdatePermissions(ctx, admin.ID, model.NewPermissionSet(model.PermViewUsers)))

	repaired, err := f.svc.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, repaired.Permissions.Equal(model.NewPermissionSet(model.PermAdminTotal)))
}

func TestAddPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.AddPermission(ctx, f.admin, "export-reports")
	require.NoError(t, err)
	assert.Equal(t, "export-reports", p.Name)

	_, err = f.svc.AddPermission(ctx, f.admin, "export-reports")
	assertCode(t, err, apperrors.ErrAlreadyExists)

	for _, bad := range []string{"Export", "export_reports", "-export", "export--reports", ""} {
		_, err = f.svc.AddPermission(ctx, f.admin, bad)
		assertCode(t, err, apperrors.ErrValidation)
	}

	nonAdmin := &model.Principal{UserID: uuid.New(), Permissions: model.NewPermissionSet(model.PermManageUsers)}
	_, err = f.svc.AddPermission(ctx, nonAdmin, "other-thing")
	assertCode(t, err, apperrors.ErrForbidden)
}

func TestRemovePermissionStripsRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.svc.CreateRole(ctx, f.admin, CreateRoleInput{
		Name:        "Regulador",
		Permissions: []string{model.PermAlterStatus, model.PermViewReferrals},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.RemovePermission(ctx, f.admin, model.PermAlterStatus))

	stored, err := f.store.Roles().Get(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{model.PermViewReferrals}, stored.Permissions.Names())

	err = f.svc.RemovePermission(ctx, f.admin, model.PermAlterStatus)
	assertCode(t, err, apperrors.ErrNotFound)

	err = f.svc.RemovePermission(ctx, f.admin, model.PermAdminTotal)
	assertCode(t, err, apperrors.ErrProtected)
}

func TestCreateRoleFiltersUnknownPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.svc.CreateRole(ctx, f.admin, CreateRoleInput{
		Name:        "Ambulatório",
		Sector:      "ambulatorio",
		Permissions: []string{model.PermRecordAttendance, "made-up", " view-referrals ", model.PermRecordAttendance},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{model.PermRecordAttendance, model.PermViewReferrals}, role.Permissions.Names())

	_, err = f.svc.CreateRole(ctx, f.admin, CreateRoleInput{Name: "Ambulatório"})
	assertCode(t, err, apperrors.ErrAlreadyExists)

	_, err = f.svc.CreateRole(ctx, f.admin, CreateRoleInput{Name: "  "})
	assertCode(t, err, apperrors.ErrValidation)
}

func TestAdministratorRoleKeepsOnlyAdminTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.store.Roles().GetByName(ctx, model.RoleAdministrador)
	require.NoError(t, err)

	updated, err := f.svc.SetRolePermissions(ctx, f.admin, admin.ID, []string{model.PermViewUsers})
	require.NoError(t, err)
	assert.Equal(t, []string{model.PermAdminTotal}, updated.Permissions.Names())

	err = f.svc.DeleteRole(ctx, f.admin, admin.ID)
	assertCode(t, err, apperrors.ErrProtected)
}

func TestSetRolePermissionsInvalidatesPrincipals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.svc.CreateRole(ctx, f.admin, CreateRoleInput{Name: "UBS", Permissions: []string{model.PermCreateReferral}})
	require.NoError(t, err)
	u := f.user(t, "ubs1")
	require.NoError(t, f.svc.AssignRole(ctx, f.admin, u.ID, role.ID))

	p, err := f.engine.Resolve(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, f.engine.HasPermission(p, model.PermCreateReferral))

	_, err = f.svc.SetRolePermissions(ctx, f.admin, role.ID, []string{model.PermViewReferrals})
	require.NoError(t, err)

	p, err = f.engine.Resolve(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, f.engine.HasPermission(p, model.PermCreateReferral))
	assert.True(t, f.engine.HasPermission(p, model.PermViewReferrals))
}

func TestAssignAndDeleteRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.svc.CreateRole(ctx, f.admin, CreateRoleInput{Name: "Regulação", Permissions: []string{model.PermAlterStatus}})
	require.NoError(t, err)
	u := f.user(t, "reg1")

	// Assigning twice is a no-op
	require.NoError(t, f.svc.AssignRole(ctx, f.admin, u.ID, role.ID))
	require.NoError(t, f.svc.AssignRole(ctx, f.admin, u.ID, role.ID))
	roles, err := f.store.Roles().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, roles, 1)

	err = f.svc.AssignRole(ctx, f.admin, uuid.New(), role.ID)
	assertCode(t, err, apperrors.ErrNotFound)
	err = f.svc.AssignRole(ctx, f.admin, u.ID, uuid.New())
	assertCode(t, err, apperrors.ErrNotFound)

	require.NoError(t, f.svc.DeleteRole(ctx, f.admin, role.ID))
	roles, err = f.store.Roles().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)

	err = f.svc.DeleteRole(ctx, f.admin, role.ID)
	assertCode(t, err, apperrors.ErrNotFound)
}

func TestUnassignRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	role, err := f.svc.CreateRole(ctx, f.admin, CreateRoleInput{Name: "UBS", Permissions: []string{model.PermCreateReferral}})
	require.NoError(t, err)
	u := f.user(t, "ubs2")
	require.NoError(t, f.svc.AssignRole(ctx, f.admin, u.ID, role.ID))

	_, err = f.engine.Resolve(ctx, u.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.UnassignRole(ctx, f.admin, u.ID, role.ID))
	p, err := f.engine.Resolve(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Permissions.Len())
}
