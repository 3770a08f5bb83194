// Package webhookxhttp exposes subscription management, test deliveries and
// delivery history over HTTP. Subscription secrets appear exactly once, in
// the create response; every other representation redacts them.
package webhookxhttp

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/recibo/pkg/iam/auth"
	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
)

// Handlers serves the /webhooks routes.
type Handlers struct {
	registry   *webhookx.Registry
	dispatcher *webhookx.Dispatcher
	deliveries webhookx.DeliveryStore
}

// NewHandlers creates the webhook HTTP handlers.
func NewHandlers(registry *webhookx.Registry, dispatcher *webhookx.Dispatcher, deliveries webhookx.DeliveryStore) *Handlers {
	return &Handlers{registry: registry, dispatcher: dispatcher, deliveries: deliveries}
}

// RegisterRoutes mounts the webhook routes behind the given middleware.
func (h *Handlers) RegisterRoutes(app *fiber.App, middleware ...fiber.Handler) {
	group := app.Group("/webhooks")
	for _, mw := range middleware {
		group.Use(mw)
	}

	group.Post("/", h.Create)
	group.Get("/", h.List)
	group.Get("/:id", h.Get)
	group.Put("/:id", h.Update)
	group.Delete("/:id", h.Delete)
	group.Post("/:id/test", h.Test)
	group.Get("/:id/deliveries", h.Deliveries)
	group.Get("/:id/deliveries/:deliveryId", h.GetDelivery)
	group.Post("/:id/deliveries/:deliveryId/retry", h.RetryDelivery)
}

// createResponse is the only payload that carries the signing secret.
type createResponse struct {
	*webhookx.Subscription
	Secret string `json:"secret"`
}

// Create registers a subscription and returns it with its fresh secret.
func (h *Handlers) Create(c *fiber.Ctx) error {
	var in webhookx.CreateSubscriptionInput
	if err := c.BodyParser(&in); err != nil {
		return webhookx.InvalidSubscription("malformed request body")
	}

	sub, err := h.registry.Create(c.Context(), ownerID(c), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(createResponse{Subscription: sub, Secret: sub.Secret})
}

func (h *Handlers) Get(c *fiber.Ctx) error {
	sub, err := h.registry.Get(c.Context(), ownerID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sub)
}

func (h *Handlers) List(c *fiber.Ctx) error {
	page, err := h.registry.List(c.Context(), ownerID(c), pagination(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handlers) Update(c *fiber.Ctx) error {
	var in webhookx.UpdateSubscriptionInput
	if err := c.BodyParser(&in); err != nil {
		return webhookx.InvalidSubscription("malformed request body")
	}

	sub, err := h.registry.Update(c.Context(), ownerID(c), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(sub)
}

func (h *Handlers) Delete(c *fiber.Ctx) error {
	if err := h.registry.Delete(c.Context(), ownerID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Test fires a one-off synthetic delivery at the endpoint and reports the
// outcome without recording history or scheduling retries.
func (h *Handlers) Test(c *fiber.Ctx) error {
	sub, err := h.registry.Get(c.Context(), ownerID(c), c.Params("id"))
	if err != nil {
		return err
	}

	var in struct {
		Event   string      `json:"event"`
		Payload interface{} `json:"payload"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return webhookx.InvalidSubscription("malformed request body")
		}
	}
	return c.JSON(h.dispatcher.TestWebhook(c.Context(), sub, in.Event, in.Payload))
}

// Deliveries lists the delivery history of one subscription, optionally
// filtered by status.
func (h *Handlers) Deliveries(c *fiber.Ctx) error {
	sub, err := h.registry.Get(c.Context(), ownerID(c), c.Params("id"))
	if err != nil {
		return err
	}

	status := webhookx.DeliveryStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		return webhookx.InvalidSubscription("unknown delivery status").
			WithDetail("status", string(status))
	}

	opts := pagination(c)
	attempts, total, err := h.deliveries.ListByWebhook(c.Context(), sub.ID, status, opts)
	if err != nil {
		return err
	}
	page := kernel.NewPaginated(attempts, opts.Page, opts.PageSize, total)
	return c.JSON(page)
}

// GetDelivery returns one delivery attempt of a subscription.
func (h *Handlers) GetDelivery(c *fiber.Ctx) error {
	attempt, err := h.delivery(c)
	if err != nil {
		return err
	}
	return c.JSON(attempt)
}

// RetryDelivery revives a terminally failed delivery for one more send.
func (h *Handlers) RetryDelivery(c *fiber.Ctx) error {
	attempt, err := h.delivery(c)
	if err != nil {
		return err
	}

	attempt, err = h.dispatcher.RetryDelivery(c.Context(), attempt.ID)
	if err != nil {
		return err
	}
	return c.JSON(attempt)
}

// delivery resolves the :deliveryId param and enforces that it belongs to
// the caller's :id subscription.
func (h *Handlers) delivery(c *fiber.Ctx) (*webhookx.DeliveryAttempt, error) {
	sub, err := h.registry.Get(c.Context(), ownerID(c), c.Params("id"))
	if err != nil {
		return nil, err
	}

	id := c.Params("deliveryId")
	attempt, err := h.deliveries.Get(c.Context(), id)
	if err != nil {
		return nil, err
	}
	if attempt.WebhookID != sub.ID {
		return nil, webhookx.DeliveryNotFound(id)
	}
	return attempt, nil
}

func ownerID(c *fiber.Ctx) string {
	if ac := auth.FromCtx(c); ac != nil {
		return ac.TenantID.String()
	}
	return ""
}

func pagination(c *fiber.Ctx) kernel.PaginationOptions {
	return kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	}.Normalize()
}
