package storage

import (
	"context"
	"fmt"
	"strings"

	logx "shopbot/pkg/logx"
)

// Open initializes the configured store and applies its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		st, err := openSQLite(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres", "postgresql", "pgx":
		st, err := openPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
