package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/env"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func() error

type HttpRouter struct {
	checks map[string]HealthCheck
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.StatusOK
		result := fiber.Map{}
		for name, check := range h.checks {
			if err := check(); err != nil {
				status = fiber.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		return c.Status(status).JSON(fiber.Map{"status": status == fiber.StatusOK, "checks": result})
	})

	// fiber metrics, only exposed when credentials are configured
	user, password := env.GetEnv("MONITOR_USER", ""), env.GetEnv("MONITOR_PASSWORD", "")
	if user != "" && password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				user: password,
			},
		}), monitor.New(monitor.Config{Title: "Plan Catalog Metrics"}))
	}
}

func NewHttpRouter(checks map[string]HealthCheck) *HttpRouter {
	return &HttpRouter{checks: checks}
}
