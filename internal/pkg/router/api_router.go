package router

import (
	"time"

	apiv1 "github.com/ManuelReschke/PlanCatalog/internal/api/v1"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/env"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	server     *apiv1.APIServer
	middleware []fiber.Handler
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetInt("API_RATE_LIMIT", 600),
		Expiration: time.Minute,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from the plan catalog api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1", h.middleware...)
	apiv1.RegisterHandlers(v1, h.server)
}

// NewApiRouter mounts server under /api/v1. middleware runs before every v1
// handler, e.g. apiv1.RequestValidator.
func NewApiRouter(server *apiv1.APIServer, middleware ...fiber.Handler) *ApiRouter {
	return &ApiRouter{server: server, middleware: middleware}
}
