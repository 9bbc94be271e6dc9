package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/signpostkit/signpost/pkg/access"
	"github.com/signpostkit/signpost/pkg/cmd"
	"github.com/signpostkit/signpost/pkg/log"
	"github.com/signpostkit/signpost/pkg/otelhelper"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "signpost-api",
		Usage:                 "Manage signposting workflow templates and walk instances",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the effective-workflow cache (empty disables caching)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel, none)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringSliceFlag{
				Name:    "global-admins",
				Usage:   "User ids allowed to approve global templates",
				Sources: cli.EnvVars("GLOBAL_ADMINS"),
			},
			&cli.StringSliceFlag{
				Name:    "surgery-admins",
				Usage:   "Surgery admin grants in user@surgery form",
				Sources: cli.EnvVars("SURGERY_ADMINS"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces via OTLP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

			logger.InfoContext(ctx, "Initializing Signpost API")

			if command.Bool("otel") {
				if _, err := otelhelper.NewTracer(ctx, "signpost-api"); err != nil {
					return err
				}
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()
			}

			effectiveCache := cmd.NewEffectiveCache(command.String("redis-url"), logger)
			checker := access.NewStaticChecker(
				command.StringSlice("global-admins"),
				command.StringSlice("surgery-admins"),
			)

			api, err := NewAPI(logger, persistence, eventBus, effectiveCache, checker)
			if err != nil {
				return err
			}

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
