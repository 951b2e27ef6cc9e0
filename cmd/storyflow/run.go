package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/michael-menard/storyflow/pkg/budget"
	"github.com/michael-menard/storyflow/pkg/cmd"
	"github.com/michael-menard/storyflow/pkg/eventbus"
	"github.com/michael-menard/storyflow/pkg/graph"
	"github.com/michael-menard/storyflow/pkg/kb"
	"github.com/michael-menard/storyflow/pkg/lock"
	"github.com/michael-menard/storyflow/pkg/log"
	"github.com/michael-menard/storyflow/pkg/models"
	"github.com/michael-menard/storyflow/pkg/nodes/loaddb"
	"github.com/michael-menard/storyflow/pkg/nodes/savedb"
	"github.com/michael-menard/storyflow/pkg/persistence"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a story's workflow graph until it reaches a terminal or side state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "story-id",
				Usage:    "Story to run (e.g. GAL-101)",
				Required: true,
				Sources:  cli.EnvVars("STORYFLOW_STORY_ID"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (postgres://... or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "idempotency-mode",
				Usage:   "Re-run enforcement (advisory, warning, soft_gate, hard_gate)",
				Value:   "warning",
				Sources: cli.EnvVars("STORYFLOW_IDEMPOTENCY_MODE"),
			},
			&cli.StringFlag{
				Name:    "kb-path",
				Usage:   "Knowledge base storage path (empty disables KB nodes)",
				Sources: cli.EnvVars("STORYFLOW_KB_PATH"),
			},
			&cli.StringFlag{
				Name:    "budget-level",
				Usage:   "Token budget enforcement (advisory, warning, soft_gate, hard_gate)",
				Value:   "warning",
				Sources: cli.EnvVars("STORYFLOW_BUDGET_LEVEL"),
			},
			&cli.BoolFlag{
				Name:  "confirm",
				Usage: "Confirm soft-gated re-runs and budget overruns",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("storyflow-run")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			bus, err := cmd.NewEventBus(command.String("event-bus"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			executor, err := newExecutor(store, bus, command, logger)
			if err != nil {
				return err
			}

			result, err := executor.Run(ctx, command.String("story-id"))
			if err != nil {
				return err
			}

			fmt.Printf("story %s finished in phase %s (%d nodes, %d retries, %s)\n",
				result.State.StoryID,
				result.State.Phase,
				result.NodesExecuted,
				result.Retries,
				result.Duration.Round(time.Millisecond))

			return nil
		},
	}
}

func newExecutor(store persistence.Persistence, bus eventbus.EventBus, command *cli.Command, logger *slog.Logger) (*graph.Executor, error) {
	guard := lock.NewGuard(
		lock.NewMemoryRecordStore(),
		models.EnforcementLevel(command.String("idempotency-mode")),
		logger,
	)

	opts := graph.Options{
		Locker:    lock.NewMemoryLocker(),
		Guard:     guard,
		Bus:       bus,
		Confirmed: command.Bool("confirm"),
	}

	pipeline := cmd.PipelineOptions{
		Budget: budget.NewTracker(store.WorkflowRepository(), budget.Config{
			Level: models.EnforcementLevel(command.String("budget-level")),
		}, logger),
		Bus:       bus,
		Confirmed: command.Bool("confirm"),
	}

	if path := command.String("kb-path"); path != "" {
		kbStore, err := kb.NewChromemStore(path, nil, logger)
		if err != nil {
			return nil, err
		}

		pipeline.Knowledge = kbStore
	}

	return graph.NewExecutor(
		loaddb.NewLoader(store, logger),
		savedb.NewSaver(store, logger),
		cmd.NewPhaseNodes(store, pipeline, logger),
		opts,
		logger,
	), nil
}
