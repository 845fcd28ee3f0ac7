package export

import (
	"context"
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/igolaizola/musigen/pkg/storage"
	"github.com/igolaizola/musigen/pkg/task"
	"go.uber.org/zap"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	Logger *zap.Logger

	Type   string
	Output string
}

type row struct {
	ID        string  `csv:"id"`
	TaskID    string  `csv:"task_id"`
	CreatedAt string  `csv:"created_at"`
	Title     string  `csv:"title"`
	Type      string  `csv:"type"`
	Prompt    string  `csv:"prompt"`
	Genres    string  `csv:"genres"`
	Moods     string  `csv:"moods"`
	Duration  int     `csv:"duration"`
	Measured  float32 `csv:"measured"`
	AudioURL  string  `csv:"audio_url"`
	Source    string  `csv:"source"`
}

const pageSize = 100

// Run writes the archived tracks to a CSV file, oldest first.
func Run(ctx context.Context, cfg *Config) (int, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("export")

	if cfg.Output == "" {
		return 0, fmt.Errorf("export: output file not specified")
	}
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug, log)
	if err != nil {
		return 0, fmt.Errorf("export: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return 0, fmt.Errorf("export: couldn't start orm store: %w", err)
	}
	defer func() { _ = store.Stop() }()

	var filters []storage.Filter
	if cfg.Type != "" {
		filters = append(filters, storage.Where("type = ?", cfg.Type))
	}
	var rows []*row
	for page := 1; ; page++ {
		tracks, err := store.ListTracks(ctx, page, pageSize, "created_at asc", filters...)
		if err != nil {
			return 0, fmt.Errorf("export: couldn't list tracks: %w", err)
		}
		for _, t := range tracks {
			rows = append(rows, &row{
				ID:        t.ID,
				TaskID:    t.TaskID,
				CreatedAt: t.CreatedAt.UTC().Format(task.TimeLayout),
				Title:     t.Title,
				Type:      t.Type,
				Prompt:    t.Prompt,
				Genres:    t.Genres,
				Moods:     t.Moods,
				Duration:  t.Duration,
				Measured:  t.Measured,
				AudioURL:  t.Audio,
				Source:    t.Source,
			})
		}
		if len(tracks) < pageSize {
			break
		}
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		return 0, fmt.Errorf("export: couldn't create output file: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("export: couldn't write csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("export: couldn't close output file: %w", err)
	}
	log.Info("tracks exported", zap.Int("count", len(rows)), zap.String("output", cfg.Output))
	return len(rows), nil
}
