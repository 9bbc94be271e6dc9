// Package main provides the janitor that sweeps abandoned walk instances.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/signpostkit/signpost/pkg/cmd"
	"github.com/signpostkit/signpost/pkg/log"
	"github.com/signpostkit/signpost/pkg/services"
)

const janitorActor = "signpost-janitor"

func main() {
	logger := log.WithModule("janitor")

	command := &cli.Command{
		Name:                  "signpost-janitor",
		Usage:                 "Cancel workflow instances abandoned mid-walk",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel, none)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the sweep",
				Value:   "0 * * * *",
				Sources: cli.EnvVars("JANITOR_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "max-age",
				Usage:   "Age after which an active instance counts as abandoned",
				Value:   72 * time.Hour,
				Sources: cli.EnvVars("JANITOR_MAX_AGE"),
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

			logger.InfoContext(ctx, "Initializing Signpost janitor")

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

			instanceService := services.NewInstance(persistence, eventBus, logger)
			maxAge := command.Duration("max-age")

			sweep := func() {
				cutoff := time.Now().UTC().Add(-maxAge)

				cancelled, err := instanceService.CancelStale(ctx, cutoff, janitorActor)
				if err != nil {
					logger.ErrorContext(ctx, "Sweep failed", "error", err)

					return
				}

				logger.InfoContext(ctx, "Sweep finished", "cancelled", cancelled, "cutoff", cutoff)
			}

			scheduler := cron.New()

			if _, err := scheduler.AddFunc(command.String("schedule"), sweep); err != nil {
				return err
			}

			// Sweep once at startup so a restart never delays cleanup by a
			// full schedule interval.
			sweep()

			scheduler.Start()
			defer scheduler.Stop()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			logger.InfoContext(ctx, "Shutting down janitor")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
