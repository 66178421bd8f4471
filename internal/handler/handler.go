package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/model"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/validator"
)

// PrincipalKey is the gin context key holding the authenticated
// *model.Principal.
const PrincipalKey = "principal"

// Principal returns the authenticated principal, or nil on public routes.
func Principal(c *gin.Context) *model.Principal {
	if v, ok := c.Get(PrincipalKey); ok {
		if p, ok := v.(*model.Principal); ok {
			return p
		}
	}
	return nil
}

// Error records err for the error middleware and stops the chain.
func Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// BindJSON binds the request body, reporting failures as validation errors.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		Error(c, apperrors.BadRequest(validator.Describe(err), err))
		return false
	}
	return true
}

// BindQuery binds query parameters, reporting failures as validation errors.
func BindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		Error(c, apperrors.BadRequest(validator.Describe(err), err))
		return false
	}
	return true
}

// ParamID parses a uuid path parameter.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		Error(c, apperrors.Validationf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}
