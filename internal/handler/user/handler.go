package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	userService "github.com/jwalitptl/sisreg-api/internal/service/user"
)

type Handler struct {
	service *userService.Service
}

func NewHandler(service *userService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.POST("", h.CreateUser)
		users.GET("/:id", h.GetUser)
	}
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req userService.CreateUserInput
	if !handler.BindJSON(c, &req) {
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), handler.Principal(c), req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(user))
}

func (h *Handler) GetUser(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), handler.Principal(c), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(user))
}
