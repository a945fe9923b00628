package apiv1

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (POST /tenants/{tenant}/prices/resolve)
	PostResolvePrice(c *fiber.Ctx, tenant string) error
	// (GET /tenants/{tenant}/catalog/versions)
	GetCatalogVersions(c *fiber.Ctx, tenant string) error
	// (POST /tenants/{tenant}/catalog/snapshots)
	PostCatalogSnapshot(c *fiber.Ctx, tenant string) error
	// (POST /tenants/{tenant}/catalog/reload)
	PostCatalogReload(c *fiber.Ctx, tenant string) error
	// (GET /tenants/{tenant}/overrides)
	GetPriceOverrides(c *fiber.Ctx, tenant string) error
	// (GET /tenants/{tenant}/overrides/{planName})
	GetPriceOverride(c *fiber.Ctx, tenant, planName string) error
	// (POST /billing/effective-date)
	PostEffectiveDate(c *fiber.Ctx) error
	// (POST /subscriptions)
	PostSubscription(c *fiber.Ctx) error
	// (GET /subscriptions/{id})
	GetSubscription(c *fiber.Ctx, id uuid.UUID) error
	// (GET /subscriptions/{id}/price)
	GetSubscriptionPrice(c *fiber.Ctx, id uuid.UUID) error
	// (POST /subscriptions/{id}/cancel)
	PostCancelSubscription(c *fiber.Ctx, id uuid.UUID) error
	// (POST /subscriptions/{id}/uncancel)
	PostUncancelSubscription(c *fiber.Ctx, id uuid.UUID) error
	// (POST /subscriptions/{id}/change-plan)
	PostChangePlan(c *fiber.Ctx, id uuid.UUID) error
}

// ServerInterfaceWrapper converts path parameters before calling the handlers.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) withTenant(h func(*fiber.Ctx, string) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant := c.Params("tenant")
		if tenant == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "tenant missing"})
		}
		return h(c, tenant)
	}
}

func (w *ServerInterfaceWrapper) withTenantPlan(h func(*fiber.Ctx, string, string) error) fiber.Handler {
	return w.withTenant(func(c *fiber.Ctx, tenant string) error {
		planName := c.Params("planName")
		if planName == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "plan name missing"})
		}
		return h(c, tenant, planName)
	})
}

func (w *ServerInterfaceWrapper) withID(h func(*fiber.Ctx, uuid.UUID) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid subscription id"})
		}
		return h(c, id)
	}
}

// RegisterHandlers adds each server route to the router.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.Get("/ping", si.GetPing)

	router.Post("/tenants/:tenant/prices/resolve", w.withTenant(si.PostResolvePrice))
	router.Get("/tenants/:tenant/catalog/versions", w.withTenant(si.GetCatalogVersions))
	router.Post("/tenants/:tenant/catalog/snapshots", w.withTenant(si.PostCatalogSnapshot))
	router.Post("/tenants/:tenant/catalog/reload", w.withTenant(si.PostCatalogReload))
	router.Get("/tenants/:tenant/overrides", w.withTenant(si.GetPriceOverrides))
	router.Get("/tenants/:tenant/overrides/:planName", w.withTenantPlan(si.GetPriceOverride))

	router.Post("/billing/effective-date", si.PostEffectiveDate)

	router.Post("/subscriptions", si.PostSubscription)
	router.Get("/subscriptions/:id", w.withID(si.GetSubscription))
	router.Get("/subscriptions/:id/price", w.withID(si.GetSubscriptionPrice))
	router.Post("/subscriptions/:id/cancel", w.withID(si.PostCancelSubscription))
	router.Post("/subscriptions/:id/uncancel", w.withID(si.PostUncancelSubscription))
	router.Post("/subscriptions/:id/change-plan", w.withID(si.PostChangePlan))
}
