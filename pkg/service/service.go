// Package service wires the task store, the generation and translation
// adapters, the optional archive and file store and the worker together.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/igolaizola/musigen/pkg/filestore"
	"github.com/igolaizola/musigen/pkg/replicate"
	"github.com/igolaizola/musigen/pkg/scratch"
	"github.com/igolaizola/musigen/pkg/sound"
	"github.com/igolaizola/musigen/pkg/storage"
	"github.com/igolaizola/musigen/pkg/task"
	"github.com/igolaizola/musigen/pkg/translate"
	"github.com/igolaizola/musigen/pkg/worker"
	"go.uber.org/zap"
)

type Config struct {
	Debug bool

	DBType string
	DBConn string

	FSType    string
	FSConn    string
	PublicURL string

	ScratchDir        string
	Concurrency       int
	GenerationTimeout time.Duration
	PollWait          time.Duration

	Model          string
	ReplicateURL   string
	ReplicateToken string

	Translator   string
	PapagoID     string
	PapagoSecret string
	PapagoURL    string
	OpenAIKey    string
	OpenAIModel  string
	OpenAIURL    string

	// Generator replaces the replicate client when set.
	Generator worker.Generator
	Logger    *zap.Logger
}

type Service struct {
	Tasks   *task.Store
	Worker  *worker.Worker
	Scratch *scratch.Dir
	// Storage and Files are nil when the archive or the mirror are disabled.
	Storage *storage.Store
	Files   *filestore.Store

	model string
	log   *zap.Logger
}

// New creates the service. Jobs submitted to its worker are bound to ctx.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		Tasks: task.NewStore(),
		model: cfg.Model,
		log:   log,
	}
	if s.model == "" {
		s.model = replicate.DefaultModel
	}

	if cfg.DBType != "" {
		store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug, log)
		if err != nil {
			return nil, fmt.Errorf("service: couldn't create orm store: %w", err)
		}
		if err := store.Start(ctx); err != nil {
			return nil, fmt.Errorf("service: couldn't start orm store: %w", err)
		}
		s.Storage = store
	}

	token := s.credential(ctx, cfg.ReplicateToken, "replicate", "token")
	papagoID := s.credential(ctx, cfg.PapagoID, "papago", "id")
	papagoSecret := s.credential(ctx, cfg.PapagoSecret, "papago", "secret")
	openaiKey := s.credential(ctx, cfg.OpenAIKey, "openai", "token")

	generator := cfg.Generator
	if generator == nil {
		if token == "" {
			log.Warn("replicate token not set, generations will fail")
		}
		generator = replicate.New(&replicate.Config{
			Token:   token,
			Model:   s.model,
			BaseURL: cfg.ReplicateURL,
			Wait:    cfg.PollWait,
			Debug:   cfg.Debug,
			Client:  &http.Client{Timeout: cfg.GenerationTimeout},
			Logger:  log,
		})
	}

	tr, err := translate.New(cfg.Translator, &translate.Config{
		ID:      papagoID,
		Secret:  papagoSecret,
		Key:     openaiKey,
		Model:   cfg.OpenAIModel,
		BaseURL: translatorURL(cfg),
		Debug:   cfg.Debug,
	})
	if err != nil {
		s.stopStorage()
		return nil, fmt.Errorf("service: %w", err)
	}

	dir, err := scratch.New(cfg.ScratchDir)
	if err != nil {
		s.stopStorage()
		return nil, fmt.Errorf("service: %w", err)
	}
	s.Scratch = dir

	if cfg.FSType != "" {
		fs, err := filestore.New(cfg.FSType, cfg.FSConn, cfg.PublicURL, log)
		if err != nil {
			s.stopStorage()
			return nil, fmt.Errorf("service: couldn't create file storage: %w", err)
		}
		s.Files = fs
	}

	wcfg := &worker.Config{
		Store:       s.Tasks,
		Generator:   generator,
		Translator:  translate.Safe(tr, log),
		Scratch:     dir,
		Logger:      log,
		Concurrency: cfg.Concurrency,
	}
	if s.Storage != nil {
		wcfg.Archive = s.Storage
	}
	if s.Files != nil {
		wcfg.Mirror = s.Files
	}
	s.Worker = worker.New(ctx, wcfg)
	return s, nil
}

func translatorURL(cfg *Config) string {
	if cfg.Translator == "openai" {
		return cfg.OpenAIURL
	}
	return cfg.PapagoURL
}

// credential returns value or, when empty, the one stored in the settings
// table.
func (s *Service) credential(ctx context.Context, value, service, typ string) string {
	if value != "" || s.Storage == nil {
		return value
	}
	v, err := s.Storage.Credential(ctx, service, "", typ)
	if err != nil {
		s.log.Warn("couldn't read stored credential", zap.String("service", service), zap.String("type", typ), zap.Error(err))
		return ""
	}
	if v != "" {
		s.log.Info("using stored credential", zap.String("service", service), zap.String("type", typ))
	}
	return v
}

func (s *Service) Model() string {
	return s.model
}

// Wait blocks until the task is terminal or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*task.Task, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, err := s.Tasks.Get(id)
		if err != nil {
			return nil, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download saves the audio of a succeeded task to output. The file store is
// tried first, then the task audio URL.
func (s *Service) Download(ctx context.Context, t *task.Task, output string) error {
	if t.Result == nil {
		return fmt.Errorf("service: task %s has no result", t.ID)
	}
	if s.Files != nil {
		err := s.Files.GetMP3(ctx, output, t.Result.ID)
		if err == nil {
			return nil
		}
		s.log.Debug("couldn't get mp3 from file store", zap.String("track", t.Result.ID), zap.Error(err))
	}
	client := &http.Client{Timeout: 2 * time.Minute}
	if err := sound.Download(ctx, client, t.AudioURL, output); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}

// Close waits for the submitted jobs and closes the archive.
func (s *Service) Close() {
	s.Worker.Wait()
	s.stopStorage()
}

func (s *Service) stopStorage() {
	if s.Storage == nil {
		return
	}
	if err := s.Storage.Stop(); err != nil {
		s.log.Warn("couldn't stop orm store", zap.Error(err))
	}
}
