package referral

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	"github.com/jwalitptl/sisreg-api/internal/model"
)

type transitionParams struct {
	actor *model.Principal
	id    uuid.UUID
}

// transition parses the referral id, binds the body into req and runs op,
// rendering the updated referral.
func (h *Handler) transition(c *gin.Context, req interface{}, op func(*gin.Context, transitionParams) (interface{}, error)) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	if !handler.BindJSON(c, req) {
		return
	}

	result, err := op(c, transitionParams{actor: handler.Principal(c), id: id})
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}
