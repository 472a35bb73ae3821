package router

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/config"
	"github.com/LougLynx/RIG-SYSTEM/internal/handler"
	"github.com/LougLynx/RIG-SYSTEM/internal/middleware"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
	"github.com/LougLynx/RIG-SYSTEM/internal/service"
	"github.com/LougLynx/RIG-SYSTEM/internal/worker"
)

// Deps are the runtime objects the ops API reports on.
type Deps struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Feed      handler.CircuitReporter
	Scheduler handler.CycleReporter
	Limiter   *middleware.RateLimiter
}

// New wires the ops API and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB
func New(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	if deps.Limiter != nil {
		r.Use(deps.Limiter.Handler())
	}

	// ── Repositories ─────────────────────────────────────────────────────────
	receivingRepo := repository.NewReceivingRepository(deps.DB)
	planRepo := repository.NewPlanRepository(deps.DB)

	// ── Handlers ─────────────────────────────────────────────────────────────
	receivingsH := handler.NewReceivingsHandler(service.NewReceivingQueryService(receivingRepo))
	plansH := handler.NewPlansHandler(service.NewPlanService(planRepo))

	// ── Routes ───────────────────────────────────────────────────────────────
	r.GET("/health", handler.Health(healthDeps(deps)))

	v1 := r.Group("/v1")
	{
		v1.GET("/receivings", receivingsH.List)
		v1.GET("/receivings/:id", receivingsH.Get)

		v1.POST("/plan-details/:id/delays",
			middleware.JWTAuth(cfg.JWTSecret),
			middleware.RequireRole(middleware.RoleSupervisor, middleware.RoleAdministrator),
			plansH.Delay)
	}

	return r
}

func healthDeps(d Deps) handler.HealthDeps {
	hd := handler.HealthDeps{
		Feed:      d.Feed,
		Scheduler: d.Scheduler,
	}
	if d.DB != nil {
		hd.DB = func(ctx context.Context) error { return repository.Ping(ctx, d.DB) }
	}
	if d.Redis != nil {
		rdb := d.Redis
		hd.Redis = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		hd.DLQ = func(ctx context.Context) (map[string]int64, error) { return worker.DLQStats(ctx, rdb) }
	}
	return hd
}

// PurgeInterval is how often the rate limiter drops expired windows.
const PurgeInterval = 5 * time.Minute
