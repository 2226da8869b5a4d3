package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/cadenzahq/cadenza/pkg/dispatch"
	"github.com/cadenzahq/cadenza/pkg/eventbus"
	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/recovery"
	"github.com/cadenzahq/cadenza/pkg/registry"
	"github.com/cadenzahq/cadenza/pkg/web"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	registry *registry.Registry
	eventBus eventbus.EventBus
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		registry: registry,
		eventBus: eventBus,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App(ctx context.Context) *fiber.App {
	dispatchManager := dispatch.NewManager(a.logger, a.registry, a.store, a.eventBus)
	dispatchManager.Start(ctx)

	recoveryManager := recovery.NewManager(a.logger, a.store, a.eventBus)

	handlers := web.NewAPIHandlers(a.store, a.registry, dispatchManager, recoveryManager, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadenza API")
	})

	t := app.Group("/triggers")
	t.Get("/catalog", handlers.GetTriggerCatalog)
	t.Post("/validate", handlers.ValidateTriggerConfig)
	t.Post("/", handlers.CreateTrigger)
	t.Get("/:id", handlers.GetTrigger)
	t.Patch("/:id", handlers.UpdateTrigger)
	t.Delete("/:id", handlers.DeleteTrigger)
	t.Post("/:id/fire", handlers.TriggerManually)

	app.Get("/workflows/:id/triggers", handlers.GetWorkflowTriggers)

	e := app.Group("/executions")
	e.Get("/:id/checkpoints", handlers.GetExecutionCheckpoints)
	e.Get("/:id/checkpoints/statistics", handlers.GetCheckpointStatistics)
	e.Post("/:id/recover", handlers.RecoverExecution)
	e.Get("/:id/recovery-logs", handlers.GetExecutionRecoveryLogs)

	s := app.Group("/recovery/strategies")
	s.Get("/", handlers.GetStrategies)
	s.Post("/", handlers.CreateStrategy)
	s.Get("/:id", handlers.GetStrategy)
	s.Patch("/:id", handlers.UpdateStrategy)
	s.Delete("/:id", handlers.DeleteStrategy)

	app.Get("/recovery/logs/:id", handlers.GetRecoveryLog)
	app.Get("/recovery/failure-analysis", handlers.GetFailureAnalysis)
	app.Get("/recovery/trends", handlers.GetRecoveryTrends)
	app.Post("/recovery/checkpoints/cleanup", handlers.CleanupCheckpoints)

	r := app.Group("/replay-sessions")
	r.Get("/", handlers.GetReplaySessions)
	r.Post("/", handlers.CreateReplaySession)
	r.Get("/:id", handlers.GetReplaySession)
	r.Post("/:id/start", handlers.StartReplaySession)
	r.Post("/:id/cancel", handlers.CancelReplaySession)
	r.Get("/:id/comparison", handlers.GetReplayComparison)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	app := a.App(ctx)

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
