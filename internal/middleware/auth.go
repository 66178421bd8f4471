package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	"github.com/jwalitptl/sisreg-api/internal/model"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
)

var (
	errMissingHeader = errors.New("missing authorization header")
	errBadScheme     = errors.New("invalid authorization format")
)

type TokenValidator interface {
	ValidateToken(token string) (uuid.UUID, error)
}

// PrincipalResolver loads the effective permissions of a user and answers
// permission checks against them.
type PrincipalResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*model.Principal, error)
	RequireAny(p *model.Principal, names ...string) error
}

type AuthMiddleware struct {
	tokens TokenValidator
	authz  PrincipalResolver
}

func NewAuthMiddleware(tokens TokenValidator, authz PrincipalResolver) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		authz:  authz,
	}
}

// Authenticate verifies the bearer token and stores the resolved principal
// in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.Error(c, apperrors.Unauthorized(errMissingHeader))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			handler.Error(c, apperrors.Unauthorized(errBadScheme))
			return
		}

		userID, err := m.tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			handler.Error(c, err)
			return
		}

		principal, err := m.authz.Resolve(c.Request.Context(), userID)
		if err != nil {
			handler.Error(c, err)
			return
		}

		c.Set(handler.PrincipalKey, principal)
		c.Next()
	}
}

// RequirePermission rejects the request unless the principal holds at
// least one of the given permissions.
func (m *AuthMiddleware) RequirePermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := handler.Principal(c)
		if principal == nil {
			handler.Error(c, apperrors.Unauthorized(nil))
			return
		}
		if err := m.authz.RequireAny(principal, permissions...); err != nil {
			handler.Error(c, err)
			return
		}
		c.Next()
	}
}
