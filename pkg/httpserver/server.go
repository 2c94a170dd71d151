// Package httpserver builds the fiber app every stage with an HTTP surface
// shares: tracing, rate limiting, /health and /metrics.
package httpserver

import (
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const UserIDHeader = "X-User-ID"

type Config struct {
	AppName string
	Timeout time.Duration
	// RateLimit is the number of requests per IP allowed per RateWindow.
	// Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

func New(cfg Config, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Timeout,
		WriteTimeout:          cfg.Timeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("Unhandled HTTP error", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(otelfiber.Middleware())

	if cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = 5 * time.Second
		}
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit,
			Expiration: window,
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests. Try again later.",
				})
			},
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

// RequireUser rejects requests without a user id header and stores the id
// in c.Locals("userId").
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(UserIDHeader)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing " + UserIDHeader + " header",
			})
		}
		c.Locals("userId", userID)
		return c.Next()
	}
}

func UserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("userId").(string)
	return userID
}
