// Package cmd provides common initialization helpers for command-line
// applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/signpostkit/signpost/pkg/persistence"
	"github.com/signpostkit/signpost/pkg/persistence/file"
	"github.com/signpostkit/signpost/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// postgres URLs get the real store; anything else is treated as a directory
// path for the file store, which is what local development uses.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
