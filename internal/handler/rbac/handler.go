package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	rbacService "github.com/jwalitptl/sisreg-api/internal/service/rbac"
)

type Handler struct {
	service *rbacService.Service
	guards  []gin.HandlerFunc
}

// NewHandler mounts the catalog and role administration routes. guards run
// in front of every route of the group.
func NewHandler(service *rbacService.Service, guards ...gin.HandlerFunc) *Handler {
	return &Handler{service: service, guards: guards}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rbac := r.Group("/rbac", h.guards...)
	{
		permissions := rbac.Group("/permissions")
		{
			permissions.GET("", h.ListPermissions)
			permissions.POST("", h.CreatePermission)
			permissions.DELETE("/:name", h.DeletePermission)
		}

		roles := rbac.Group("/roles")
		{
			roles.GET("", h.ListRoles)
			roles.POST("", h.CreateRole)
			roles.PUT("/:id/permissions", h.SetRolePermissions)
			roles.DELETE("/:id", h.DeleteRole)
		}

		users := rbac.Group("/users")
		{
			users.POST("/:id/roles/:roleId", h.AssignRole)
			users.DELETE("/:id/roles/:roleId", h.UnassignRole)
		}
	}
}

type createPermissionRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) ListPermissions(c *gin.Context) {
	perms, err := h.service.ListPermissions(c.Request.Context(), handler.Principal(c))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(perms))
}

func (h *Handler) CreatePermission(c *gin.Context) {
	var req createPermissionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	perm, err := h.service.AddPermission(c.Request.Context(), handler.Principal(c), req.Name)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(perm))
}

func (h *Handler) DeletePermission(c *gin.Context) {
	if err := h.service.RemovePermission(c.Request.Context(), handler.Principal(c), c.Param("name")); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListRoles(c *gin.Context) {
	roles, err := h.service.ListRoles(c.Request.Context(), handler.Principal(c))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(roles))
}

func (h *Handler) CreateRole(c *gin.Context) {
	var req rbacService.CreateRoleInput
	if !handler.BindJSON(c, &req) {
		return
	}

	role, err := h.service.CreateRole(c.Request.Context(), handler.Principal(c), req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(role))
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (h *Handler) SetRolePermissions(c *gin.Context) {
	roleID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req setPermissionsRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	role, err := h.service.SetRolePermissions(c.Request.Context(), handler.Principal(c), roleID, req.Permissions)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(role))
}

func (h *Handler) DeleteRole(c *gin.Context) {
	roleID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(c.Request.Context(), handler.Principal(c), roleID); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AssignRole(c *gin.Context) {
	userID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	roleID, ok := handler.ParamID(c, "roleId")
	if !ok {
		return
	}
	if err := h.service.AssignRole(c.Request.Context(), handler.Principal(c), userID, roleID); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UnassignRole(c *gin.Context) {
	userID, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	roleID, ok := handler.ParamID(c, "roleId")
	if !ok {
		return
	}
	if err := h.service.UnassignRole(c.Request.Context(), handler.Principal(c), userID, roleID); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
