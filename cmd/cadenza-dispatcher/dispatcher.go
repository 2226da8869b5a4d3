package main

import (
	"context"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/cadenzahq/cadenza/pkg/cmd"
	"github.com/cadenzahq/cadenza/pkg/dispatch"
	"github.com/cadenzahq/cadenza/pkg/models"
	"github.com/cadenzahq/cadenza/pkg/otelhelper"
)

func runDispatcher(ctx context.Context, logger *slog.Logger, dispatcherID string, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := otelhelper.NewTracer(ctx, "cadenza-dispatcher"); err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)
	}

	store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "cadenza", logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	reg := cmd.NewRegistry(logger)

	opts := []dispatch.ManagerOption{
		dispatch.WithQueueCapacity(command.Int("queue-capacity")),
	}

	if redisURL := command.String("redis-url"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return err
		}

		opts = append(opts, dispatch.WithDeduper(dispatch.NewRedisDeduper(redis.NewClient(redisOpts), 0)))
		logger.InfoContext(ctx, "Duplicate-event suppression enabled")
	}

	manager := dispatch.NewManager(logger, reg, store, eventBus, opts...)
	manager.Start(ctx)

	defer manager.Stop()

	bridge := dispatch.NewBridge(logger, manager, manager.Snapshots(), 256)
	go bridge.Run(ctx)

	scheduler := dispatch.NewScheduler(logger, store.TriggerRepository(), manager)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	app := webhookApp(logger, bridge)

	go func() {
		port := strconv.Itoa(command.Int("webhook-port"))
		if err := app.Listen(":" + port); err != nil {
			logger.ErrorContext(ctx, "Webhook server stopped", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Dispatcher running", "dispatcher_id", dispatcherID)

	<-ctx.Done()

	logger.Info("Shutting down dispatcher")

	return app.Shutdown()
}

// webhookApp exposes the inbound webhook endpoint. Payloads become
// webhook_received events scoped to the target workflow.
func webhookApp(logger *slog.Logger, bridge *dispatch.Bridge) *fiber.App {
	app := fiber.New()

	app.Post("/webhooks/:workflowId", func(c fiber.Ctx) error {
		var payload map[string]any
		if err := c.Bind().JSON(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON payload"})
		}

		workflowID := c.Params("workflowId")

		bridge.Emit(models.NewEvent(models.EventWebhookReceived, "webhook", map[string]any{
			"workflow_id": workflowID,
			"payload":     payload,
		}))

		logger.Debug("Webhook accepted", "workflow_id", workflowID)

		return c.SendStatus(fiber.StatusAccepted)
	})

	return app
}
