// Package bootstrap opens the configured graph store and makes sure the
// template layer is published before the engine starts.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"workgraph/internal/config"
	"workgraph/internal/repository"
	"workgraph/internal/templates"
)

// Logger is the subset of the application logger used during startup.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// OpenStore returns the graph store selected by engine.store. The postgres
// store is migrated before it is returned.
func OpenStore(ctx context.Context, cfg *config.Config, logger Logger) (repository.Store, error) {
	switch cfg.Engine.Store {
	case "memory":
		logger.Info("Using in-memory graph store")
		return repository.NewMemoryGraphStore(), nil
	case "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresGraphStore(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("Database connected", "host", cfg.DB.Host, "db", cfg.DB.Name)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown engine.store %q", cfg.Engine.Store)
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Bundle reads the bundle at path, or the built-in sample when path is empty.
func Bundle(path string) (templates.Bundle, error) {
	if path == "" {
		return templates.SampleBundle()
	}
	return templates.LoadBundleFile(path)
}

// Templates loads the published template layer. An empty layer is first
// populated from the bundle at path; a populated one is never overwritten.
func Templates(ctx context.Context, store repository.Store, path string, logger Logger) (*templates.Registry, error) {
	reg, err := templates.Load(ctx, store)
	if err != nil {
		return nil, err
	}
	if n := len(reg.WorkflowIDs()); n > 0 {
		logger.Info("Template graph loaded", "workflows", n)
		return reg, nil
	}

	bundle, err := Bundle(path)
	if err != nil {
		return nil, err
	}
	reg, err = templates.Publish(ctx, store, bundle)
	if err != nil {
		return nil, err
	}
	logger.Info("Template graph published", "workflows", len(reg.WorkflowIDs()), "bundle", path)
	return reg, nil
}
