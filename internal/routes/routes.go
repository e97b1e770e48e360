package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/assetledger/internal/config"
	"github.com/congo-pay/assetledger/internal/ledger"
	"github.com/congo-pay/assetledger/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	Store  ledger.Store
	Ledger *ledger.Ledger
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil || d.Ledger == nil {
		return fmt.Errorf("ledger store is required")
	}
	// Enforce Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDOf(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	guards := []fiber.Handler{
		middleware.Caller([]byte(d.Cfg.JWTSecret)),
		middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute),
	}
	if d.Cache != nil {
		guards = append(guards, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterAssetRoutes(api, ledger.NewHandler(d.Ledger), guards...)

	return nil
}
