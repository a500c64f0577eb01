package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/doctriage/doctriage/internal/common"
)

// OpenStore builds the store selected by configuration.
func OpenStore(ctx context.Context, cfg common.JobsConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.Expiry, logger), nil
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.DSN, cfg.Expiry, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, cfg.Expiry, logger)
	default:
		return nil, fmt.Errorf("unknown jobs driver %q", cfg.Driver)
	}
}
