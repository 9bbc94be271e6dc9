// Package main provides the Signpost API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/signpostkit/signpost/pkg/cache"
	"github.com/signpostkit/signpost/pkg/eventbus"
	"github.com/signpostkit/signpost/pkg/persistence"
	"github.com/signpostkit/signpost/pkg/services"
	"github.com/signpostkit/signpost/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	cache       cache.EffectiveCache
	access      services.AccessChecker
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	effectiveCache cache.EffectiveCache,
	access services.AccessChecker,
) (*API, error) {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		cache:       effectiveCache,
		access:      access,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (a *API) App() (*fiber.App, error) {
	var publisher eventbus.EventPublisher
	if a.eventBus != nil {
		publisher = a.eventBus
	}

	templateService := services.NewTemplate(a.persistence, publisher, a.cache, a.logger)
	effectiveService := services.NewEffective(a.persistence, a.cache, a.logger)
	instanceService := services.NewInstance(a.persistence, publisher, a.logger)
	approvalService := services.NewApproval(a.persistence, a.access, publisher, a.cache, a.logger)

	importerService, err := services.NewImporter(a.persistence, a.cache, a.logger)
	if err != nil {
		return nil, err
	}

	handlers := web.NewAPIHandlers(
		templateService,
		effectiveService,
		instanceService,
		approvalService,
		importerService,
		a.persistence,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Signpost API")
	})

	app.Get("/surgeries/:surgeryId/effective-workflows", handlers.GetEffectiveWorkflows)

	t := app.Group("/templates")
	t.Post("/", handlers.CreateTemplate)
	t.Post("/import", handlers.ImportTemplate)
	t.Get("/:id", handlers.GetTemplate)
	t.Patch("/:id", handlers.UpdateTemplate)
	t.Delete("/:id", handlers.DeleteTemplate)
	t.Post("/:id/approve", handlers.ApproveTemplate)
	t.Post("/:id/supersede", handlers.SupersedeTemplate)

	// Node and option endpoints:
	t.Post("/:id/nodes", handlers.CreateNode)
	t.Patch("/:id/nodes/:nodeId", handlers.UpdateNode)
	t.Delete("/:id/nodes/:nodeId", handlers.DeleteNode)
	t.Post("/:id/nodes/:nodeId/options", handlers.CreateOption)
	t.Patch("/:id/nodes/:nodeId/options/:optionId", handlers.UpdateOption)
	t.Delete("/:id/nodes/:nodeId/options/:optionId", handlers.DeleteOption)

	i := app.Group("/instances")
	i.Post("/", handlers.StartInstance)
	i.Get("/:id", handlers.GetInstance)
	i.Post("/:id/advance", handlers.AdvanceInstance)
	i.Post("/:id/acknowledge", handlers.AcknowledgeInstance)
	i.Post("/:id/cancel", handlers.CancelInstance)

	app.Get("/health", handlers.HealthCheck)

	return app, nil
}

func (a *API) Start(port int) error {
	app, err := a.App()
	if err != nil {
		return err
	}

	return app.Listen(":" + strconv.Itoa(port))
}
