// Package main provides the Journey API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/woolane/journey/pkg/persistence"
	"github.com/woolane/journey/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewAPI(logger *slog.Logger, persistence persistence.Persistence) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Journey API")
	})

	automations := app.Group("/automations")
	automations.Get("/", handlers.GetAutomations)
	automations.Post("/", handlers.CreateAutomation)
	automations.Get("/:id", handlers.GetAutomation)
	automations.Patch("/:id/active", handlers.SetAutomationActive)
	automations.Post("/:id/exit-all", handlers.ExitAllEnrollments)
	automations.Get("/:id/stats", handlers.GetAutomationStats)
	automations.Get("/:id/enrollments", handlers.GetEnrollments)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
