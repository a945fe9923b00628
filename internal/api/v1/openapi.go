package apiv1

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// DefaultSpecPath is the OpenAPI document served under /docs/api/v1.
const DefaultSpecPath = "public/docs/v1/openapi.yml"

// LoadSpec loads and validates the OpenAPI document describing this API.
func LoadSpec(ctx context.Context, path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document %s: %w", path, err)
	}
	return doc, nil
}

// RequestValidator rejects requests that do not match doc with 400 before
// they reach a handler. Paths doc does not describe are passed through.
func RequestValidator(doc *openapi3.T) (fiber.Handler, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(c *fiber.Ctx) error {
		req, err := adaptor.ConvertRequest(c, false)
		if err != nil {
			return err
		}
		route, params, err := router.FindRoute(req)
		if err != nil {
			return c.Next()
		}
		err = openapi3filter.ValidateRequest(c.UserContext(), &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
			Options:    options,
		})
		if err != nil {
			return badRequest(c, err.Error())
		}
		return c.Next()
	}, nil
}
