package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/michael-menard/storyflow/pkg/bridge"
	"github.com/michael-menard/storyflow/pkg/cmd"
	"github.com/michael-menard/storyflow/pkg/log"
)

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync a story between its YAML artifact and the database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "story-id",
				Usage:    "Story to sync (e.g. GAL-101)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (postgres://... or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "workspace",
				Usage:   "Workspace root holding plans/future/...",
				Value:   ".",
				Sources: cli.EnvVars("STORYFLOW_WORKSPACE"),
			},
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Sync direction (yaml-to-db, db-to-yaml, bidirectional)",
				Value: string(bridge.DirectionBidirectional),
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Conflict strategy for bidirectional sync (yaml-wins, db-wins, newest-wins)",
				Value: string(bridge.StrategyNewestWins),
			},
			&cli.StringFlag{
				Name:  "stage",
				Usage: "Artifact stage directory",
				Value: "in-progress",
			},
			&cli.StringFlag{
				Name:  "actor",
				Usage: "Actor recorded on database writes",
				Value: "storyflow-cli",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("storyflow-sync")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			resolver := bridge.NewPathResolver(command.String("workspace"), logger)
			b := bridge.NewBridge(store, resolver, logger)

			result, err := b.SyncStory(ctx, command.String("story-id"), bridge.SyncOptions{
				Stage:     command.String("stage"),
				Direction: bridge.SyncDirection(command.String("direction")),
				Strategy:  bridge.ConflictStrategy(command.String("strategy")),
				Actor:     command.String("actor"),
			})
			if err != nil {
				return err
			}

			fmt.Printf("synced %s (%s): db_created=%t db_updated=%t file_written=%t",
				result.StoryID, result.Direction,
				result.DBCreated, result.DBUpdated, result.FileWritten)

			if result.Winner != "" {
				fmt.Printf(" winner=%s", result.Winner)
			}

			fmt.Println()

			for _, warning := range result.Warnings {
				fmt.Println("warning:", warning)
			}

			return nil
		},
	}
}
