package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc, err := NewJWTService("secret", "sisreg", time.Hour)
	require.NoError(t, err)

	id := uuid.New()
	token, exp, err := svc.GenerateAccessToken(id, "maria")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "maria", claims.Username)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestJWTRejectsTampering(t *testing.T) {
	svc, err := NewJWTService("secret", "sisreg", time.Hour)
	require.NoError(t, err)
	other, err := NewJWTService("other", "sisreg", time.Hour)
	require.NoError(t, err)

	token, _, err := other.GenerateAccessToken(uuid.New(), "x")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken(strings.TrimSuffix(token, token[len(token)-2:]))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpired(t *testing.T) {
	svc, err := NewJWTService("secret", "", time.Minute)
	require.NoError(t, err)
	hs := svc.(*hmacService)
	hs.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := svc.GenerateAccessToken(uuid.New(), "x")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService("", "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingKey)
}
