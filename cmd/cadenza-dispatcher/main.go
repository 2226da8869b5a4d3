// Package main provides the trigger dispatcher service: it receives
// events, matches them against trigger instances and submits
// workflows for execution.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/cadenzahq/cadenza/pkg/log"
)

func main() {
	logger := log.WithModule("dispatcher")

	command := &cli.Command{
		Name:                  "cadenza-dispatcher",
		Usage:                 "Match events against workflow triggers and dispatch executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (memory or postgres://...)",
				Value:   "memory",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL enabling duplicate-event suppression",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the webhook intake HTTP server",
				Value:   8085,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.IntFlag{
				Name:  "queue-capacity",
				Usage: "Buffer size of each priority queue tier",
				Value: 1024,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
			}

			logger.InfoContext(ctx, "Initializing Cadenza Dispatcher", "dispatcher_id", dispatcherID)

			return runDispatcher(ctx, logger, dispatcherID, command)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
