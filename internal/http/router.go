package http

import (
	"log/slog"
	"time"

	"github.com/geocoder89/timetracker/internal/auth"
	"github.com/geocoder89/timetracker/internal/cache"
	"github.com/geocoder89/timetracker/internal/http/handlers"
	"github.com/geocoder89/timetracker/internal/http/middlewares"
	"github.com/geocoder89/timetracker/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

// Deps is everything the API router needs. Stores may be postgres or memory backed.
type Deps struct {
	Env         string
	ServiceName string
	Log         *slog.Logger

	Users         handlers.UserStore
	RefreshTokens handlers.RefreshTokenStore
	Projects      handlers.ProjectStore
	TimeEntries   handlers.TimeEntryStore

	JWT                  *auth.Manager
	RequireVerifiedEmail bool

	Cache    cache.Cache
	Location *time.Location

	// AuthLimiter guards the unauthenticated auth routes; nil disables it.
	AuthLimiter middlewares.Limiter
	// APILimiter guards authenticated routes per user; nil disables it.
	APILimiter middlewares.Limiter

	CORSOrigins []string

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	Checks []handlers.Check
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.ServiceName == "" {
		d.ServiceName = "timetracker-api"
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(d.ServiceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	health := handlers.NewHealthHandler(d.Checks...)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/docs", handlers.SwaggerUI)
	r.GET("/docs/openapi.yaml", handlers.OpenAPISpec)

	authH := handlers.NewAuthHandler(d.Users, d.RefreshTokens, d.JWT, d.RequireVerifiedEmail, d.Log)
	projectsH := handlers.NewProjectsHandler(d.Projects, d.Cache, d.Log)
	timerH := handlers.NewTimerHandler(d.TimeEntries, d.Cache, d.Prom, d.Log)
	dashboardH := handlers.NewDashboardHandler(d.TimeEntries, d.Cache, d.Location, d.Log)

	api := r.Group("/api")
	api.GET("/test/", health.Test)

	authGroup := api.Group("/auth")
	if d.AuthLimiter != nil {
		authGroup.Use(middlewares.RateLimiterMiddleware(d.AuthLimiter, middlewares.KeyByIP))
	}
	authGroup.POST("/register/", authH.Register)
	authGroup.POST("/verify-email/", authH.VerifyEmail)
	authGroup.POST("/login/", authH.Login)
	authGroup.POST("/refresh/", authH.Refresh)
	authGroup.POST("/logout/", authH.Logout)

	authMW := middlewares.NewAuthMiddleware(d.JWT)

	protected := api.Group("")
	protected.Use(authMW.RequireAuth())
	if d.APILimiter != nil {
		protected.Use(middlewares.RateLimiterMiddleware(d.APILimiter, middlewares.KeyByUserOrIP))
	}

	protected.GET("/projects/", projectsH.List)
	protected.POST("/projects/", projectsH.Create)
	protected.GET("/projects/:id/", projectsH.Get)
	protected.PUT("/projects/:id/", projectsH.Update)
	protected.DELETE("/projects/:id/", projectsH.Delete)

	protected.GET("/time-entries/", timerH.ListEntries)

	protected.POST("/timer/start/", timerH.Start)
	protected.POST("/timer/stop/", timerH.Stop)
	protected.GET("/timer/status/", timerH.Status)

	protected.GET("/dashboard/", dashboardH.Summary)

	return r
}
