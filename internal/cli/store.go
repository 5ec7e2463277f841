package cli

import (
	"context"
	"fmt"

	"jobsieve/internal/core/config"
	"jobsieve/internal/infra/storage"
	"jobsieve/internal/infra/storage/memory"
	"jobsieve/internal/infra/storage/postgres"
	redisstore "jobsieve/internal/infra/storage/redis"
)

// openStore connects admin commands to the same engine the service
// resolves from config. The returned closer releases the connection.
func openStore(ctx context.Context, cfg *config.AppConfig) (storage.Store, func(), error) {
	driver := cfg.Store.Driver
	if driver == "" {
		switch {
		case cfg.Database.URL != "":
			driver = "postgres"
		case cfg.Redis.URL != "":
			driver = "redis"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return storage.Store{}, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return postgres.NewStore(db), func() { _ = db.Close() }, nil
	case "redis":
		client, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			return storage.Store{}, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.NewStore(client), func() { _ = client.Close() }, nil
	default:
		// The memory engine is process-local, so admin commands against it
		// always see an empty store.
		return memory.NewStore(), func() {}, nil
	}
}
