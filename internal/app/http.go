package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/sisreg-api/internal/config"
	authHandler "github.com/jwalitptl/sisreg-api/internal/handler/auth"
	"github.com/jwalitptl/sisreg-api/internal/handler/health"
	rbacHandler "github.com/jwalitptl/sisreg-api/internal/handler/rbac"
	referralHandler "github.com/jwalitptl/sisreg-api/internal/handler/referral"
	userHandler "github.com/jwalitptl/sisreg-api/internal/handler/user"
	"github.com/jwalitptl/sisreg-api/internal/middleware"
	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/router"
)

// HTTPOptions carries the optional observability hooks of the API.
type HTTPOptions struct {
	Checks         map[string]health.Check
	Metrics        gin.HandlerFunc
	MetricsHandler gin.HandlerFunc
}

// Router builds the /api/v1 engine over the service graph.
func (s *Services) Router(cfg config.ServerConfig, opts HTTPOptions) (*router.Router, error) {
	if err := middleware.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	authMiddleware := middleware.NewAuthMiddleware(s.Auth, s.Authz)
	auth := authHandler.NewHandler(s.Auth, s.Authz)

	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(opts.Checks, opts.MetricsHandler),
		[]router.PublicHandler{auth},
		[]router.Handler{
			auth,
			userHandler.NewHandler(s.Users),
			rbacHandler.NewHandler(s.RBAC, authMiddleware.RequirePermission(model.PermAdminTotal)),
			referralHandler.NewHandler(s.Referrals),
		},
		router.RouterConfig{
			RateLimit:    rate.Limit(cfg.RateLimit),
			RateBurst:    cfg.RateBurst,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Security:     middleware.DefaultSecurityConfig(),
			Metrics:      opts.Metrics,
		},
	)
	r.Setup()
	return r, nil
}
