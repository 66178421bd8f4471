package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/service/auth"
)

type SectorResolver interface {
	HomeSector(p *model.Principal) model.Sector
}

type Handler struct {
	svc     *auth.Service
	sectors SectorResolver
}

func NewHandler(svc *auth.Service, sectors SectorResolver) *Handler {
	return &Handler{svc: svc, sectors: sectors}
}

// RegisterPublicRoutes mounts the routes reachable without a token.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.Me)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(token))
}

type meResponse struct {
	*model.Principal
	HomeSector model.Sector `json:"home_sector"`
}

func (h *Handler) Me(c *gin.Context) {
	p := handler.Principal(c)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(meResponse{
		Principal:  p,
		HomeSector: h.sectors.HomeSector(p),
	}))
}
