package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rebillhq/rebill/app/controllers"
)

type ApiRouter struct {
	billing *controllers.BillingController
}

func NewApiRouter(bc *controllers.BillingController) *ApiRouter {
	return &ApiRouter{billing: bc}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1")
	v1.Post("/subscriptions", h.billing.HandleRegister)
	v1.Get("/subscriptions/:id", h.billing.HandleGetSubscription)
	v1.Delete("/subscriptions/:id", h.billing.HandleCancel)
}
