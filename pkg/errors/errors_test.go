package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeAndKind(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
		kind   string
	}{
		{NotFound("referral", nil), http.StatusNotFound, "not_found"},
		{Validation("bad"), http.StatusBadRequest, "validation"},
		{BadRequest("bad", nil), http.StatusBadRequest, "validation"},
		{Unauthorized(nil), http.StatusUnauthorized, "unauthorized"},
		{Forbidden("alter-status"), http.StatusForbidden, "forbidden"},
		{Conflict("taken", nil), http.StatusConflict, "conflict"},
		{Protected("no"), http.StatusConflict, "protected"},
		{AlreadyExists("role"), http.StatusConflict, "already_exists"},
		{InvalidState("no"), http.StatusConflict, "invalid_state"},
		{Internal(fmt.Errorf("db down")), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.Equal(t, tt.kind, tt.err.Kind())
		})
	}
}

func TestWrapping(t *testing.T) {
	cause := stderrors.New("no rows")
	err := fmt.Errorf("loading: %w", NotFound("referral", cause))

	assert.True(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(err, ErrConflict))
	assert.ErrorIs(t, err, cause)

	appErr, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, "referral not found: no rows", appErr.Error())

	_, ok = As(cause)
	assert.False(t, ok)
	assert.Equal(t, `permission "alter-status" required`, Forbidden("alter-status").Error())
}
