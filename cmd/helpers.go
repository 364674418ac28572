package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/siteselect-cli/internal/storage"
	"github.com/sells-group/siteselect-cli/internal/task"
)

// initStore opens the task store selected by config.
func initStore(ctx context.Context) (task.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return task.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	case "sqlite":
		return task.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initStorage connects to the artifact object store.
func initStorage(ctx context.Context) (storage.ObjectStore, error) {
	return storage.NewMinio(ctx, cfg.Storage)
}
