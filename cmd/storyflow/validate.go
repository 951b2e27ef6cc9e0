package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/michael-menard/storyflow/pkg/bridge"
	"github.com/michael-menard/storyflow/pkg/log"
	"github.com/michael-menard/storyflow/pkg/models"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate YAML artifacts against their schemas",
		ArgsUsage: "<file> [file...]",
		Action: func(_ context.Context, command *cli.Command) error {
			logger := log.WithModule("storyflow-validate")

			paths := command.Args().Slice()
			if len(paths) == 0 {
				return errors.New("no files given")
			}

			reader := bridge.NewReader(logger)
			failed := 0

			for _, path := range paths {
				warnings, err := validateArtifact(reader, path)

				var validationErr *models.ValidationError
				switch {
				case errors.As(err, &validationErr):
					failed++

					fmt.Printf("FAIL %s\n", path)

					for _, violation := range validationErr.Violations {
						fmt.Printf("  %s: %s\n", violation.Field, violation.Message)
					}
				case err != nil:
					failed++

					fmt.Printf("FAIL %s: %v\n", path, err)
				default:
					fmt.Printf("OK   %s\n", path)

					for _, warning := range warnings {
						fmt.Printf("  warning: %s\n", warning)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files failed validation", failed, len(paths))
			}

			return nil
		},
	}
}

// validateArtifact picks the schema from the file name: story.yaml,
// elaboration.yaml, plan.yaml. Other names fall back to the story schema.
func validateArtifact(reader *bridge.Reader, path string) ([]string, error) {
	base := strings.ToLower(filepath.Base(path))

	switch {
	case strings.HasPrefix(base, "elaboration"):
		result, err := reader.ReadElaboration(path)
		if err != nil {
			return nil, err
		}

		return result.Warnings, nil
	case strings.HasPrefix(base, "plan"):
		result, err := reader.ReadPlan(path)
		if err != nil {
			return nil, err
		}

		return result.Warnings, nil
	default:
		result, err := reader.ReadStory(path)
		if err != nil {
			return nil, err
		}

		return result.Warnings, nil
	}
}
