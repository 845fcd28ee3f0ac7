package setting

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/igolaizola/musigen/pkg/storage"
	"go.uber.org/zap"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	Logger *zap.Logger

	Service string
	Account string
	Value   string
	Type    string

	// List prints the stored settings with masked values.
	List bool
	// Delete removes the setting instead of saving it.
	Delete bool
	Output io.Writer
}

func Run(ctx context.Context, cfg *Config) error {
	if cfg.List && cfg.Delete {
		return fmt.Errorf("setting: list and delete can't be used together")
	}
	if !cfg.List {
		if err := validate(cfg); err != nil {
			return err
		}
	}

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug, cfg.Logger)
	if err != nil {
		return fmt.Errorf("setting: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("setting: couldn't start orm store: %w", err)
	}
	defer func() { _ = store.Stop() }()

	if cfg.List {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return list(ctx, store, out)
	}

	id := storage.SettingID(cfg.Service, cfg.Account, cfg.Type)
	if cfg.Delete {
		if err := store.DeleteSetting(ctx, id); err != nil {
			return fmt.Errorf("setting: couldn't delete %s: %w", id, err)
		}
		return nil
	}
	s := storage.Setting{
		ID:    id,
		Value: cfg.Value,
	}
	if err := store.SetSetting(ctx, &s); err != nil {
		return fmt.Errorf("setting: couldn't save %s: %w", s.ID, err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Value == "" && !cfg.Delete {
		return fmt.Errorf("setting: value is empty")
	}
	switch cfg.Service {
	case "replicate", "openai":
		if cfg.Type != "token" {
			return fmt.Errorf("setting: unknown type for %s: %s", cfg.Service, cfg.Type)
		}
	case "papago":
		if cfg.Type != "id" && cfg.Type != "secret" {
			return fmt.Errorf("setting: unknown type for %s: %s", cfg.Service, cfg.Type)
		}
	default:
		return fmt.Errorf("setting: unknown service: %s", cfg.Service)
	}
	return nil
}

func list(ctx context.Context, store *storage.Store, out io.Writer) error {
	const size = 100
	for page := 1; ; page++ {
		vs, err := store.ListSettings(ctx, page, size)
		if err != nil {
			return fmt.Errorf("setting: %w", err)
		}
		for _, v := range vs {
			fmt.Fprintf(out, "%s\t%s\n", v.ID, mask(v.Value))
		}
		if len(vs) < size {
			return nil
		}
	}
}

func mask(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-4)
}
