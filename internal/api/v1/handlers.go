package apiv1

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/override"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/policy"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/pricing"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/subscription"
)

// CatalogReloader reloads a tenant catalog and announces the reload.
// *reloader.Manager implements it.
type CatalogReloader interface {
	ReloadTenant(ctx context.Context, tenant string) (*catalog.VersionedCatalog, error)
}

// SnapshotWriter stores a catalog document as the next version of a tenant.
type SnapshotWriter interface {
	Append(ctx context.Context, tenant string, document []byte) (*catalog.Snapshot, error)
}

// OverrideLister reads the stored overrides of a tenant.
type OverrideLister interface {
	ListByTenant(ctx context.Context, tenant string, offset, limit int) ([]*override.PriceOverride, error)
	// GetByPlanName returns override.ErrNotFound for unknown names.
	GetByPlanName(ctx context.Context, planName string) (*override.PriceOverride, error)
}

// Dependencies are the services the API delegates to.
type Dependencies struct {
	Prices        *pricing.Facade
	Subscriptions *subscription.Service
	Reloader      CatalogReloader
	Snapshots     SnapshotWriter
	Overrides     OverrideLister
	// OverridePattern is the naming pattern override plan names are checked
	// against. The zero value is the legacy pattern.
	OverridePattern override.Pattern
	// Now defaults to time.Now and is the "now" of effective date requests.
	Now func() time.Time
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// APIServer implements the ServerInterface
type APIServer struct {
	deps     Dependencies
	validate *validator.Validate
}

// NewAPIServer creates a new API server instance
func NewAPIServer(deps Dependencies) *APIServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	v := validator.New()
	_ = v.RegisterValidation("billing_period", func(fl validator.FieldLevel) bool {
		_, err := catalog.ParseBillingPeriod(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("billing_policy", func(fl validator.FieldLevel) bool {
		_, err := policy.Parse(fl.Field().String())
		return err == nil
	})
	return &APIServer{deps: deps, validate: v}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostResolvePrice resolves the plan and price in effect for a tenant at a
// date, with optional phase price overrides.
func (s *APIServer) PostResolvePrice(c *fiber.Ctx, tenant string) error {
	var req ResolvePriceRequest
	if err := s.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	var ovr *pricing.OverrideRequest
	if len(req.Overrides) > 0 {
		ovr = &pricing.OverrideRequest{Phases: toPhaseOverrides(req.Overrides)}
	}
	resolved, err := s.deps.Prices.ResolvePrice(c.UserContext(), tenant, req.Date.UTC(), pricing.PlanRequest{
		PlanName:          req.PlanName,
		SubscriptionStart: req.SubscriptionStart,
	}, ovr)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(resolved)
}

// GetCatalogVersions lists the catalog versions governing [from, to).
func (s *APIServer) GetCatalogVersions(c *fiber.Ctx, tenant string) error {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		return badRequest(c, "from: "+err.Error())
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		return badRequest(c, "to: "+err.Error())
	}
	spans, err := s.deps.Prices.ResolveRange(c.UserContext(), tenant, from, to)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(newCatalogVersions(spans))
}

// PostCatalogSnapshot stores the request body as the tenant's next catalog
// version and reloads the tenant.
func (s *APIServer) PostCatalogSnapshot(c *fiber.Ctx, tenant string) error {
	if s.deps.Snapshots == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error":   "not_implemented",
			"message": "the configured catalog source is read-only",
		})
	}
	body := c.Body()
	if _, err := catalog.DecodeSnapshot(tenant, 0, body); err != nil {
		return badRequest(c, err.Error())
	}
	snap, err := s.deps.Snapshots.Append(c.UserContext(), tenant, body)
	if err != nil {
		return writeError(c, err)
	}
	log.Infof("[API] Stored catalog version %d for tenant %s effective %s", snap.Version, tenant, snap.EffectiveDate.Format(time.RFC3339))

	vc, err := s.deps.Reloader.ReloadTenant(c.UserContext(), tenant)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(newReloadResponse(tenant, vc))
}

// PostCatalogReload reloads a tenant catalog from its source.
func (s *APIServer) PostCatalogReload(c *fiber.Ctx, tenant string) error {
	vc, err := s.deps.Reloader.ReloadTenant(c.UserContext(), tenant)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(newReloadResponse(tenant, vc))
}

// GetPriceOverrides pages through the overrides created for a tenant.
func (s *APIServer) GetPriceOverrides(c *fiber.Ctx, tenant string) error {
	if s.deps.Overrides == nil {
		return c.JSON([]OverrideSummary{})
	}
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", defaultListLimit)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	list, err := s.deps.Overrides.ListByTenant(c.UserContext(), tenant, offset, limit)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]OverrideSummary, len(list))
	for i, po := range list {
		out[i] = newOverrideSummary(po)
	}
	return c.JSON(out)
}

// GetPriceOverride looks up an override a tenant created by its generated
// plan name, e.g. one found on an invoice.
func (s *APIServer) GetPriceOverride(c *fiber.Ctx, tenant, planName string) error {
	if _, _, ok := s.deps.OverridePattern.Parse(planName); !ok {
		return badRequest(c, fmt.Sprintf("%q is not an override plan name", planName))
	}
	notFound := fmt.Errorf("%w: %s (tenant %s)", override.ErrNotFound, planName, tenant)
	if s.deps.Overrides == nil {
		return writeError(c, notFound)
	}
	po, err := s.deps.Overrides.GetByPlanName(c.UserContext(), planName)
	if err != nil {
		return writeError(c, err)
	}
	if po.Tenant != tenant {
		return writeError(c, notFound)
	}
	return c.JSON(newOverrideSummary(po))
}

// PostEffectiveDate computes when an action requested now takes effect.
func (s *APIServer) PostEffectiveDate(c *fiber.Ctx) error {
	var req EffectiveDateRequest
	if err := s.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	now := s.deps.Now().UTC()
	if req.Now != nil {
		now = req.Now.UTC()
	}
	period, _ := catalog.ParseBillingPeriod(req.BillingPeriod)
	pol, _ := policy.Parse(req.Policy)

	effective, err := policy.EffectiveDate(now, req.Anchor.UTC(), period, pol)
	if err != nil {
		return writeError(c, err)
	}
	resp := EffectiveDateResponse{EffectiveDate: effective, PeriodStart: req.Anchor.UTC()}
	if period != catalog.BillingPeriodNone {
		start, end, err := policy.CurrentPeriod(now, req.Anchor.UTC(), period)
		if err != nil {
			return writeError(c, err)
		}
		resp.PeriodStart = start
		resp.PeriodEnd = &end
	}
	return c.JSON(resp)
}

// PostSubscription creates a subscription.
func (s *APIServer) PostSubscription(c *fiber.Ctx) error {
	var req CreateSubscriptionRequest
	if err := s.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	period, _ := catalog.ParseBillingPeriod(req.BillingPeriod)
	sub := &subscription.Subscription{
		Tenant:         req.Tenant,
		PlanName:       req.PlanName,
		BillingPeriod:  period,
		StartDate:      req.StartDate.UTC(),
		PriceOverrides: toPhaseOverrides(req.PriceOverrides),
	}
	if req.BillingCycleAnchor != nil {
		sub.BillingCycleAnchor = req.BillingCycleAnchor.UTC()
	}
	created, err := s.deps.Subscriptions.Create(c.UserContext(), sub)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(newSubscriptionResponse(created, s.deps.Now().UTC()))
}

// GetSubscription returns a subscription by id.
func (s *APIServer) GetSubscription(c *fiber.Ctx, id uuid.UUID) error {
	sub, err := s.deps.Subscriptions.Get(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(newSubscriptionResponse(sub, s.deps.Now().UTC()))
}

// GetSubscriptionPrice resolves the plan and price of a subscription at the
// date query parameter.
func (s *APIServer) GetSubscriptionPrice(c *fiber.Ctx, id uuid.UUID) error {
	date := s.deps.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			return badRequest(c, "date: "+err.Error())
		}
		date = d
	}
	resolved, err := s.deps.Prices.ResolveSubscriptionPrice(c.UserContext(), id, date)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(resolved)
}

// PostCancelSubscription cancels a subscription under a billing policy.
func (s *APIServer) PostCancelSubscription(c *fiber.Ctx, id uuid.UUID) error {
	var req PolicyRequest
	if err := s.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	pol, _ := policy.Parse(req.Policy)
	sub, err := s.deps.Subscriptions.Cancel(c.UserContext(), id, pol)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(newSubscriptionResponse(sub, s.deps.Now().UTC()))
}

// PostUncancelSubscription reverts a pending cancellation.
func (s *APIServer) PostUncancelSubscription(c *fiber.Ctx, id uuid.UUID) error {
	sub, err := s.deps.Subscriptions.Uncancel(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(newSubscriptionResponse(sub, s.deps.Now().UTC()))
}

// PostChangePlan moves a subscription to another plan under a billing policy.
func (s *APIServer) PostChangePlan(c *fiber.Ctx, id uuid.UUID) error {
	var req ChangePlanRequest
	if err := s.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	pol, _ := policy.Parse(req.Policy)
	sub, err := s.deps.Subscriptions.ChangePlan(c.UserContext(), id, req.PlanName, pol)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(newSubscriptionResponse(sub, s.deps.Now().UTC()))
}

// bind parses and validates the JSON body.
func (s *APIServer) bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return s.validate.Struct(out)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, catalog.ErrNoApplicableCatalogVersion),
		errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, override.ErrNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	case errors.Is(err, subscription.ErrAlreadyCancelled),
		errors.Is(err, subscription.ErrNothingToUncancel),
		errors.Is(err, subscription.ErrConcurrentChange),
		errors.Is(err, pricing.ErrSubscriptionCancelled),
		errors.Is(err, override.ErrFingerprintCollision),
		errors.Is(err, override.ErrOverrideCreationConflict):
		status, code = fiber.StatusConflict, "conflict"
	case errors.Is(err, catalog.ErrInvalidRange),
		errors.Is(err, override.ErrEmptyOverride),
		errors.Is(err, override.ErrUnknownPhase),
		errors.Is(err, override.ErrDuplicatePhaseOverride),
		errors.Is(err, policy.ErrUnknownPolicy),
		errors.Is(err, policy.ErrUnknownBillingPeriod),
		errors.Is(err, subscription.ErrInvalid):
		status, code = fiber.StatusBadRequest, "bad_request"
	}
	if status == fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": code, "message": "internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

// parseDate accepts a plain date (UTC midnight) or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("date is required")
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	return t.UTC(), nil
}

func newReloadResponse(tenant string, vc *catalog.VersionedCatalog) ReloadResponse {
	resp := ReloadResponse{Tenant: tenant, Snapshots: vc.Len()}
	for _, snap := range vc.Snapshots() {
		if snap.Version > resp.Version {
			resp.Version = snap.Version
		}
	}
	return resp
}
