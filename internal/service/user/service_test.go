package user

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
	"github.com/jwalitptl/sisreg-api/internal/service/rbac"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/security"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	engine := authz.NewEngine(store.Users(), store.Roles(), time.Minute, nil)
	roles := rbac.NewService(store.Transactor(), store.Permissions(), store.Roles(), store.Users(), engine, engine)
	_, err := roles.Bootstrap(context.Background())
	require.NoError(t, err)
	return NewService(store.Transactor(), store.Users(), store.Roles(), security.NewBcryptHasher(4), engine), store
}

func TestEnsureAdmin(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seed := AdminSeed{Username: "admin", Email: "admin@example.com", Password: "changeme123"}

	admin, err := svc.EnsureAdmin(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, "Administrador", admin.Name)

	again, err := svc.EnsureAdmin(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)

	roles, err := store.Roles().ListByUser(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, model.RoleAdministrador, roles[0].Name)
}

func TestCreateUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	manager := &model.Principal{UserID: uuid.New(), Permissions: model.NewPermissionSet(model.PermManageUsers)}

	u, err := svc.CreateUser(ctx, manager, CreateUserInput{
		Name: "Joana", Username: "joana", Email: "joana@example.com", Password: "s3cret-pass", Profile: "REGULACAO",
	})
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)
	assert.True(t, u.IsActive)

	_, err = svc.CreateUser(ctx, manager, CreateUserInput{Name: "Outra", Username: "joana", Password: "s3cret-pass"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrAlreadyExists))

	_, err = svc.CreateUser(ctx, manager, CreateUserInput{Name: "Curta", Username: "curta", Password: "123"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	viewer := &model.Principal{UserID: uuid.New(), Permissions: model.NewPermissionSet(model.PermViewUsers)}
	_, err = svc.CreateUser(ctx, viewer, CreateUserInput{Name: "X", Username: "x", Password: "s3cret-pass"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))
}

func TestGetUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	admin, err := svc.EnsureAdmin(ctx, AdminSeed{Username: "admin", Password: "changeme123"})
	require.NoError(t, err)

	self := &model.Principal{UserID: admin.ID}
	got, err := svc.GetUser(ctx, self, admin.ID)
	require.NoError(t, err)
	require.Len(t, got.Roles, 1)

	stranger := &model.Principal{UserID: uuid.New()}
	_, err = svc.GetUser(ctx, stranger, admin.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))

	viewer := &model.Principal{UserID: uuid.New(), Permissions: model.NewPermissionSet(model.PermViewUsers)}
	_, err = svc.GetUser(ctx, viewer, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}
