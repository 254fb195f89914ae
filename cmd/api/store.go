package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/config"
	"github.com/chachabrian/mooveit-rides/internal/database"
	"github.com/chachabrian/mooveit-rides/internal/repository"
)

// openStore connects the configured backend. With migrate set, schema
// migrations (postgres) or index creation (mongo) run before returning.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, migrate bool) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := database.InitDB(cfg, log)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.RunMigrations(db); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			log.Info("Database migrations completed")
		}
		return repository.NewGormStore(db), nil

	case config.StoreMongo:
		client, err := database.ConnectMongo(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		store := repository.NewMongoStore(client, cfg.MongoDatabase)
		if migrate {
			if err := store.EnsureIndexes(ctx); err != nil {
				_ = store.Close(ctx)
				return nil, fmt.Errorf("ensure indexes: %w", err)
			}
			log.Info("MongoDB indexes ensured")
		}
		return store, nil

	case config.StoreMemory:
		log.Warn("Using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
