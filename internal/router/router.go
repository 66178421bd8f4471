package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/sisreg-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// PublicHandler exposes routes mounted outside authentication.
type PublicHandler interface {
	RegisterPublicRoutes(*gin.RouterGroup)
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	health    Handler
	public    []PublicHandler
	protected []Handler
}

type RouterConfig struct {
	RateLimit    rate.Limit
	RateBurst    int
	MaxBodyBytes int64
	Security     middleware.SecurityConfig
	// Metrics records HTTP metrics; nil disables it.
	Metrics gin.HandlerFunc
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	health Handler,
	public []PublicHandler,
	protected []Handler,
	config RouterConfig,
) *Router {
	engine := gin.New() // Use New() instead of Default() for more control

	r := &Router{
		engine:    engine,
		auth:      auth,
		health:    health,
		public:    public,
		protected: protected,
	}

	// Add core middlewares
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
	)
	if config.Metrics != nil {
		engine.Use(config.Metrics)
	}
	engine.Use(
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(config.Security),
	)

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodyBytes > 0 {
		sizeLimit.MaxBodySize = config.MaxBodyBytes
	}
	engine.Use(middleware.SizeLimit(sizeLimit))

	// Configure rate limiter
	if config.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Health check endpoints
	if r.health != nil {
		r.health.RegisterRoutes(api)
	}

	// Public routes
	for _, h := range r.public {
		h.RegisterPublicRoutes(api)
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	for _, h := range r.protected {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
