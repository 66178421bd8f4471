package referral

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/sisreg-api/internal/handler"
	referralService "github.com/jwalitptl/sisreg-api/internal/service/referral"
)

type Handler struct {
	service *referralService.Service
}

func NewHandler(service *referralService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	referrals := r.Group("/referrals")
	{
		referrals.POST("", h.Create)
		referrals.GET("", h.List)
		referrals.GET("/stats", h.Stats)
		referrals.GET("/agenda", h.Agenda)
		referrals.GET("/schedule-options", h.ScheduleOptions)

		referrals.GET("/:id", h.Get)
		referrals.DELETE("/:id", h.Delete)
		referrals.GET("/:id/audit", h.AuditTrail)
		referrals.GET("/:id/revision-reason", h.RevisionReason)

		referrals.POST("/:id/authorize", h.Authorize)
		referrals.POST("/:id/deny", h.Deny)
		referrals.POST("/:id/request-revision", h.RequestRevision)
		referrals.PUT("/:id/resubmit", h.Resubmit)
		referrals.POST("/:id/attendance", h.RecordAttendance)
		referrals.PUT("/:id/status", h.OverrideStatus)
	}
}

func (h *Handler) Create(c *gin.Context) {
	var req referralService.CreateInput
	if !handler.BindJSON(c, &req) {
		return
	}

	f, err := h.service.Create(c.Request.Context(), handler.Principal(c), req)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(f))
}

func (h *Handler) List(c *gin.Context) {
	var q referralService.ListQuery
	if !handler.BindQuery(c, &q) {
		return
	}

	items, err := h.service.List(c.Request.Context(), handler.Principal(c), q)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(items))
}

func (h *Handler) Stats(c *gin.Context) {
	var q referralService.ListQuery
	if !handler.BindQuery(c, &q) {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), handler.Principal(c), q)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}

func (h *Handler) Agenda(c *gin.Context) {
	var q referralService.AgendaQuery
	if !handler.BindQuery(c, &q) {
		return
	}

	days, err := h.service.Agenda(c.Request.Context(), handler.Principal(c), q)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(days))
}

func (h *Handler) ScheduleOptions(c *gin.Context) {
	opts, err := h.service.ScheduleOptions(c.Request.Context(), handler.Principal(c))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(opts))
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	f, err := h.service.Get(c.Request.Context(), handler.Principal(c), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(f))
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), handler.Principal(c), id); err != nil {
		handler.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AuditTrail(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	trail, err := h.service.AuditTrail(c.Request.Context(), handler.Principal(c), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(trail))
}

type revisionReasonResponse struct {
	Reason *string `json:"reason"`
}

func (h *Handler) RevisionReason(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	reason, err := h.service.LastRevisionReason(c.Request.Context(), handler.Principal(c), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(revisionReasonResponse{Reason: reason}))
}

func (h *Handler) Authorize(c *gin.Context) {
	var req referralService.AuthorizeInput
	h.transition(c, &req, func(c *gin.Context, p transitionParams) (interface{}, error) {
		return h.service.Authorize(c.Request.Context(), p.actor, p.id, req)
	})
}

func (h *Handler) Deny(c *gin.Context) {
	var req referralService.DenyInput
	h.transition(c, &req, func(c *gin.Context, p transitionParams) (interface{}, error) {
		return h.service.Deny(c.Request.Context(), p.actor, p.id, req)
	})
}

func (h *Handler) RequestRevision(c *gin.Context) {
	var req referralService.RevisionInput
	h.transition(c, &req, func(c *gin.Context, p transitionParams) (interface{}, error) {
		return h.service.RequestRevision(c.Request.Context(), p.actor, p.id, req)
	})
}

func (h *Handler) Resubmit(c *gin.Context) {
	var req referralService.ResubmitInput
	h.transition(c, &req, func(c *gin.Context, p transitionParams) (interface{}, error) {
		return h.service.Resubmit(c.Request.Context(), p.actor, p.id, req)
	})
}

func (h *Handler) RecordAttendance(c *gin.Context) {
	var req referralService.AttendanceInput
	h.transition(c, &req, func(c *gin.Context, p transitionParams) (interface{}, error) {
		return h.service.RecordAttendance(c.Request.Context(), p.actor, p.id, req)
	})
}

func (h *Handler) OverrideStatus(c *gin.Context) {
	var req referralService.OverrideInput
	h.transition(c, &req, func(c *gin.Context, p transitionParams) (interface{}, error) {
		return h.service.OverrideStatus(c.Request.Context(), p.actor, p.id, req)
	})
}
