package routes

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/trailpack/trailpack/internal/auth"
	"github.com/trailpack/trailpack/internal/changefeed"
	"github.com/trailpack/trailpack/internal/config"
	"github.com/trailpack/trailpack/internal/identity"
	"github.com/trailpack/trailpack/internal/inspiration"
	"github.com/trailpack/trailpack/internal/lists"
	"github.com/trailpack/trailpack/internal/metrics"
	"github.com/trailpack/trailpack/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes. DB or SQLite
// must be set according to Cfg.StoreDriver; Cache is optional in development.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	SQLite  *sql.DB
	Cache   *redis.Client
	Feed    changefeed.Feed
	Metrics *metrics.Collectors
	Logger  *slog.Logger
}

// Setup configures middlewares and all application routes. The returned func
// ends open snapshot streams and should run before the app shuts down.
func Setup(app *fiber.App, d Deps) (closeStreams func(), err error) {
	if d.Feed == nil {
		return nil, fmt.Errorf("a change feed is required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	identityRepo, listRepo, err := repositories(d)
	if err != nil {
		return nil, err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	if d.Cfg.IsDev() {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Metrics(d.Metrics))

	// Health
	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// Services and handlers
	identitySvc := identity.NewService(identityRepo, d.Logger)
	tokens := auth.NewTokens(d.Cfg.JWTSecret, d.Cfg.TokenTTL, d.Cfg.AppName)
	authSvc := auth.NewService(identitySvc, tokens, d.Metrics, d.Logger)
	listSvc := lists.NewService(listRepo, d.Feed, d.Metrics, d.Logger)

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFrom(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	api.Get("/inspiration", inspiration.Handler)

	// Public routes
	jwtmw := middleware.JWTAuth(authSvc)
	rateLimiter := middleware.LoginRateLimit(d.Cache, d.Cfg.LoginAttempts, d.Logger)
	RegisterAuthRoutes(api, auth.NewHandler(authSvc), rateLimiter, jwtmw)

	// Protected routes
	protected := api.Group("", jwtmw)
	RegisterIdentityRoutes(protected, identity.NewHandler(identitySvc))
	listHandler := lists.NewHandler(listSvc)
	RegisterListRoutes(protected, listHandler, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))

	return listHandler.CloseStreams, nil
}

func repositories(d Deps) (identity.Repository, lists.Repository, error) {
	switch d.Cfg.StoreDriver {
	case config.DriverPostgres:
		if d.DB == nil {
			return nil, nil, fmt.Errorf("database is required when STORE_DRIVER=%s", config.DriverPostgres)
		}
		return identity.NewPostgresRepository(d.DB), lists.NewPostgresRepository(d.DB), nil
	case config.DriverSQLite:
		if d.SQLite == nil {
			return nil, nil, fmt.Errorf("sqlite handle is required when STORE_DRIVER=%s", config.DriverSQLite)
		}
		return identity.NewSQLiteRepository(d.SQLite), lists.NewSQLiteRepository(d.SQLite), nil
	case config.DriverMemory, "":
		return identity.NewMemoryRepository(), lists.NewMemoryRepository(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", d.Cfg.StoreDriver)
	}
}
