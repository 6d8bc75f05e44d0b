package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/woolane/journey/pkg/persistence"
	"github.com/woolane/journey/pkg/persistence/file"
	"github.com/woolane/journey/pkg/persistence/postgresql"
)

// NewPersistence selects a store from the database URL scheme.
// postgres:// and postgresql:// URLs get the PostgreSQL store; a
// file:// URL, or anything without a recognized scheme, gets the
// file-backed store rooted at that path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return file.NewPersistence(databaseURL), nil
	}

	switch scheme {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		return file.NewPersistence(rest), nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
