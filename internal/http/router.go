package http

import (
	"log/slog"
	"time"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/auth"
	"github.com/geocoder89/taskora/internal/cache"
	"github.com/geocoder89/taskora/internal/config"
	"github.com/geocoder89/taskora/internal/domain/project"
	"github.com/geocoder89/taskora/internal/http/handlers"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/geocoder89/taskora/internal/notifications"
	"github.com/geocoder89/taskora/internal/observability"
	"github.com/geocoder89/taskora/internal/redisclient"
	"github.com/geocoder89/taskora/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "taskora"

type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Pool     *pgxpool.Pool
	Redis    *redisclient.Client
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer
	Notifier notifications.Notifier
}

func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// an empty list makes ClientIP the peer address
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error("invalid trusted proxies, trusting none", "err", err)
		_ = r.SetTrustedProxies(nil)
	}

	// middleware
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middlewares.RequestLogger(log))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.ErrorHandler(cfg.Env, log))
	r.Use(middlewares.Recovery(log))
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middlewares.SecurityHeaders(cfg.Env == "prod"))
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.Timeout(cfg.RequestTimeout))

	// health
	checks := map[string]handlers.Pinger{}
	if d.Pool != nil {
		checks["postgres"] = d.Pool
	}
	if d.Redis != nil {
		checks["redis"] = d.Redis
	}
	health := handlers.NewHealthHandler(checks)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// repositories
	usersRepo := postgres.NewUsersRepo(d.Pool, d.Prom)
	refreshRepo := postgres.NewRefreshTokensRepo(d.Pool, d.Prom)
	projectsRepo := postgres.NewProjectsRepo(d.Pool, d.Prom)
	membersRepo := postgres.NewMembersRepo(d.Pool, d.Prom)
	tasksRepo := postgres.NewTasksRepo(d.Pool, d.Prom)
	orgsRepo := postgres.NewOrganizationsRepo(d.Pool, d.Prom)

	// access gate
	tokens := auth.NewManager(
		auth.KeyConfig{Secret: cfg.AccessTokenSecret, TTL: cfg.AccessTokenTTL},
		auth.KeyConfig{Secret: cfg.RefreshTokenSecret, TTL: cfg.RefreshTokenTTL},
		cfg.TokenLeeway,
	)
	membership := auth.NewMembershipAuthority(membersRepo)
	gate := middlewares.NewGate(tokens, auth.NewIdentityResolver(usersRepo), membership, log, d.Prom)

	limiter := newLimiter(d.Redis, cfg)
	public := func(route string) gin.HandlerFunc {
		return middlewares.RateLimit(limiter, route, middlewares.KeyByIP, log, d.Prom)
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notifications.NewLogNotifier(log)
	}

	statsCache := cache.New(time.Minute)

	authHandler := handlers.NewAuthHandler(usersRepo, refreshRepo, tokens, notifier, cfg, log)
	projectsHandler := handlers.NewProjectsHandler(projectsRepo, membersRepo, usersRepo, statsCache)
	tasksHandler := handlers.NewTasksHandler(tasksRepo, usersRepo, membership, statsCache)
	analyticsHandler := handlers.NewAnalyticsHandler(tasksRepo, statsCache)
	calendarHandler := handlers.NewCalendarHandler(tasksRepo)
	orgsHandler := handlers.NewOrganizationsHandler(orgsRepo, usersRepo)

	api := r.Group("/api/v1", middlewares.RequireJSON())
	api.GET("/healthcheck", health.Healthz)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", public("auth.register"), authHandler.Register)
		authGroup.POST("/login", public("auth.login"), authHandler.Login)
		authGroup.POST("/refresh-token", public("auth.refresh"), authHandler.RefreshAccessToken)
		authGroup.GET("/verify-email/:verificationToken", public("auth.verify"), authHandler.VerifyEmail)

		authGroup.POST("/logout", gate.RequireAuth(), authHandler.Logout)
		authGroup.GET("/current-user", gate.RequireAuth(), authHandler.CurrentUser)
		authGroup.POST("/resend-email-verification",
			gate.RequireAuth(),
			middlewares.RateLimit(limiter, "auth.resend", middlewares.KeyByUserOrIP, log, d.Prom),
			authHandler.ResendEmailVerification,
		)
	}

	anyMember := gate.RequireProjectRole()
	admin := gate.RequireProjectRole(project.RoleAdmin)
	contributor := gate.RequireProjectRole(project.RoleAdmin, project.RoleMember)

	projects := api.Group("/projects", gate.RequireAuth())
	{
		projects.GET("", projectsHandler.List)
		projects.POST("", projectsHandler.Create)

		projects.GET("/:projectId", anyMember, projectsHandler.Get)
		projects.PUT("/:projectId", admin, projectsHandler.Update)
		projects.DELETE("/:projectId", admin, projectsHandler.Delete)

		projects.GET("/:projectId/members", anyMember, projectsHandler.ListMembers)
		projects.POST("/:projectId/members", admin, projectsHandler.AddMember)
		projects.PUT("/:projectId/members/:userId", admin, projectsHandler.UpdateMemberRole)
		projects.DELETE("/:projectId/members/:userId", admin, projectsHandler.RemoveMember)

		projects.GET("/:projectId/tasks", anyMember, tasksHandler.List)
		projects.POST("/:projectId/tasks", contributor, tasksHandler.Create)
		projects.GET("/:projectId/tasks/:taskId", anyMember, tasksHandler.Get)
		projects.PUT("/:projectId/tasks/:taskId", contributor, tasksHandler.Update)
		projects.DELETE("/:projectId/tasks/:taskId", admin, tasksHandler.Delete)
		projects.PATCH("/:projectId/tasks/:taskId/assign", admin, tasksHandler.Assign)

		projects.POST("/:projectId/tasks/:taskId/subtasks", contributor, tasksHandler.CreateSubtask)
		projects.PUT("/:projectId/tasks/:taskId/subtasks/:subtaskId", contributor, tasksHandler.UpdateSubtask)
		projects.DELETE("/:projectId/tasks/:taskId/subtasks/:subtaskId", contributor, tasksHandler.DeleteSubtask)
	}

	orgs := api.Group("/organizations", gate.RequireAuth())
	{
		orgs.POST("", orgsHandler.Create)
		orgs.GET("", orgsHandler.List)
		orgs.GET("/:organizationId", orgsHandler.Get)
		orgs.POST("/:organizationId/members", orgsHandler.AddMember)
	}

	api.GET("/tasks/assigned/me", gate.RequireAuth(), tasksHandler.AssignedToMe)
	api.GET("/analytics/project/:projectId", gate.RequireAuth(), anyMember, analyticsHandler.Project)
	api.GET("/calendar", gate.RequireAuth(), calendarHandler.Tasks)

	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(apperr.NotFound("Route not found"))
		c.Abort()
	})

	return r
}

// newLimiter prefers the shared Redis window so limits hold across replicas.
func newLimiter(client *redisclient.Client, cfg config.Config) middlewares.Limiter {
	if client != nil {
		return middlewares.NewRedisRateLimiter(client.Raw(), "taskora:ratelimit:", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	return middlewares.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
}
