package persist

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyuha/server/internal/config"
)

// OpenBackend builds the backend named by cfg.Store.Backend. For the
// postgres backend the pool is returned as well so the journal can share
// it; the backend owns it.
func OpenBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, *DB, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemoryBackend(), nil, nil

	case "redis":
		b, err := NewRedisBackend(ctx, cfg.Redis.URL, cfg.Redis.Key)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case "postgres":
		db, err := OpenPostgres(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresBackend(db, true), db, nil

	case "sqlite":
		b, err := OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
