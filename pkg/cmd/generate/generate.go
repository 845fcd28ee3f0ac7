package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/igolaizola/musigen/pkg/service"
	"github.com/igolaizola/musigen/pkg/task"
	"github.com/igolaizola/musigen/pkg/worker"
	"go.uber.org/zap"
)

type Config struct {
	Service service.Config
	Timeout time.Duration

	Description string
	Genres      string
	Moods       string
	Duration    int
	InputAudio  string
	Output      string
}

// Run generates a single track and waits for it.
func Run(ctx context.Context, cfg *Config) (*task.Task, error) {
	log := cfg.Service.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("generate")
	log.Info("process started")
	defer log.Info("process ended")

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	svc, err := service.New(ctx, &cfg.Service)
	if err != nil {
		return nil, fmt.Errorf("generate: couldn't create service: %w", err)
	}
	defer svc.Close()

	job := &worker.Job{
		Description: cfg.Description,
		Genres:      service.SplitList(cfg.Genres, ","),
		Moods:       service.SplitList(cfg.Moods, ","),
		Duration:    service.Duration(cfg.Duration),
	}
	if cfg.InputAudio != "" {
		path, err := saveAudio(svc, cfg.InputAudio)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		job.AudioPath = path
	}

	id, err := svc.Worker.Submit(job)
	if err != nil {
		return nil, fmt.Errorf("generate: couldn't submit: %w", err)
	}
	t, err := svc.Wait(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("generate: couldn't wait for task %s: %w", id, err)
	}
	if t.Status == task.Failed {
		return t, fmt.Errorf("generate: task %s failed: %s", id, t.Error)
	}
	log.Info("track generated", zap.String("task", id), zap.String("track", t.Result.ID), zap.String("url", t.AudioURL))

	if cfg.Output == "" {
		return t, nil
	}
	output := Output(cfg.Output, t.Result.ID)
	if err := svc.Download(ctx, t, output); err != nil {
		return t, fmt.Errorf("generate: couldn't download track: %w", err)
	}
	log.Info("track downloaded", zap.String("output", output))
	return t, nil
}

func saveAudio(svc *service.Service, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("couldn't open input audio: %w", err)
	}
	defer f.Close()
	return svc.Scratch.Save(filepath.Base(path), f)
}

// Output returns the file to write a track to. When output is an existing
// folder the track is saved inside it named after its id.
func Output(output, id string) string {
	if fi, err := os.Stat(output); err == nil && fi.IsDir() {
		return filepath.Join(output, id+".mp3")
	}
	return output
}
