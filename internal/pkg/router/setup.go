package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rebillhq/rebill/app/controllers"
)

// Router installs one group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter wires every route group. The webhook router stays outside
// the rate-limited /api group so gateway redeliveries are never throttled
// into extra retries.
func InstallRouter(app *fiber.App, bc *controllers.BillingController) {
	setup(app, NewApiRouter(bc), NewWebhookRouter(bc))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
