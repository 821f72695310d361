package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rebillhq/rebill/app/controllers"
)

type WebhookRouter struct {
	billing *controllers.BillingController
}

func NewWebhookRouter(bc *controllers.BillingController) *WebhookRouter {
	return &WebhookRouter{billing: bc}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/payment", h.billing.HandleChargeWebhook)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
}
