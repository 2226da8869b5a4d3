package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadenzahq/cadenza/pkg/persistence"
	"github.com/cadenzahq/cadenza/pkg/persistence/memory"
	"github.com/cadenzahq/cadenza/pkg/persistence/postgresql"
)

// NewPersistence creates a persistence layer from a database URL.
// postgres:// and postgresql:// URLs get PostgreSQL; "memory" gets the
// in-process store for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case databaseURL == "memory" || databaseURL == "":
		return memory.NewPersistence()
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return store
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}
