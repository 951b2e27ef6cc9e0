// Package cmd provides common initialization for command-line hosts.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/michael-menard/storyflow/pkg/persistence"
	"github.com/michael-menard/storyflow/pkg/persistence/memory"
	"github.com/michael-menard/storyflow/pkg/persistence/postgresql"
)

// NewPersistence builds a store from a database URL. postgres:// and
// postgresql:// connect to PostgreSQL; memory:// serves local experiments
// and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case databaseURL == "memory://" || databaseURL == "":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q", databaseURL)
	}
}
