package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository/memory"
	"github.com/jwalitptl/sisreg-api/pkg/auth"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/security"
)

func TestLogin(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	hasher := security.NewBcryptHasher(4)

	hash, err := hasher.Hash("correct-horse")
	require.NoError(t, err)
	active := &model.User{Name: "Ana", Username: "ana", Email: "ana@example.com", PasswordHash: hash, IsActive: true}
	require.NoError(t, store.Users().Create(ctx, active))
	inactive := &model.User{Name: "Bia", Username: "bia", Email: "bia@example.com", PasswordHash: hash}
	require.NoError(t, store.Users().Create(ctx, inactive))

	jwtSvc, err := auth.NewJWTService("test-secret", "sisreg", time.Hour)
	require.NoError(t, err)
	svc := NewService(store.Users(), jwtSvc, hasher)

	tok, err := svc.Login(ctx, "ana", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)

	id, err := svc.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, active.ID, id)

	stored, err := store.Users().Get(ctx, active.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	// Login by e-mail
	_, err = svc.Login(ctx, "ana@example.com", "correct-horse")
	require.NoError(t, err)

	for _, tc := range []struct{ user, pass string }{
		{"ana", "wrong-password"},
		{"bia", "correct-horse"},
		{"nobody", "correct-horse"},
	} {
		_, err = svc.Login(ctx, tc.user, tc.pass)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized), "%s: %v", tc.user, err)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err = svc.Login(ctx, "", "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = svc.ValidateToken("not-a-token")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthorized))
}
