package migrate

import (
	"context"
	"fmt"

	"github.com/igolaizola/musigen/pkg/storage"
	"go.uber.org/zap"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	Logger *zap.Logger
}

// Run launches the migration process.
func Run(ctx context.Context, cfg *Config) error {
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug, cfg.Logger)
	if err != nil {
		return fmt.Errorf("migrate: couldn't create: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't start: %w", err)
	}
	defer func() { _ = store.Stop() }()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't migrate: %w", err)
	}
	v, err := store.Version(ctx)
	if err != nil {
		return fmt.Errorf("migrate: couldn't get version: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("database migrated", zap.Int("version", v))
	}
	return nil
}
