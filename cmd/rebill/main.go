package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/rebillhq/rebill/app/controllers"
	"github.com/rebillhq/rebill/internal/pkg/billing"
	"github.com/rebillhq/rebill/internal/pkg/cache"
	"github.com/rebillhq/rebill/internal/pkg/database"
	"github.com/rebillhq/rebill/internal/pkg/env"
	"github.com/rebillhq/rebill/internal/pkg/gateway"
	"github.com/rebillhq/rebill/internal/pkg/router"
	"github.com/rebillhq/rebill/internal/pkg/sweeper"
)

func main() {
	app, sweep := NewApplication()

	sweep.Start()
	defer sweep.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires storage, cache, the gateway client, the billing
// service and the HTTP surface together.
func NewApplication() (*fiber.App, *sweeper.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	gw := gateway.NewRetryingClient(gateway.NewHTTPClientFromEnv(), gateway.DefaultRetryConfig())
	svc := billing.NewServiceFromDB(database.GetDB(), gw)
	repo := billing.NewRepository(database.GetDB())
	sweep := sweeper.NewManager(repo, gw, cache.NewLock())

	app := fiber.New(fiber.Config{
		AppName: "rebill",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	router.InstallRouter(app, controllers.NewBillingController(svc))

	return app, sweep
}
