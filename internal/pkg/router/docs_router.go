package router

import (
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
)

// DocsRouter serves the OpenAPI document and a Swagger UI for it.
type DocsRouter struct {
	specPath string
}

func (h DocsRouter) InstallRouter(app *fiber.App) {
	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: h.specPath,
		Path:     "v1",
		Title:    "Plan Catalog API",
	}
	app.Use(swagger.New(openAPICfg))
}

func NewDocsRouter(specPath string) *DocsRouter {
	return &DocsRouter{specPath: specPath}
}
