package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/igolaizola/musigen/pkg/replicate"
	"github.com/igolaizola/musigen/pkg/sound"
	"github.com/igolaizola/musigen/pkg/storage"
	"github.com/igolaizola/musigen/pkg/task"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type Generator interface {
	Run(ctx context.Context, in *replicate.Input) (string, error)
}

// Translator must not fail, returning the input when it can't translate.
type Translator interface {
	Translate(ctx context.Context, text string) string
}

type Archive interface {
	SetTrack(ctx context.Context, v *storage.Track) error
}

type Mirror interface {
	SetMP3(ctx context.Context, path, id string) (string, error)
}

type Remover interface {
	Remove(path string) error
}

// Job is the work submitted for a single task.
type Job struct {
	TaskID      string
	Description string
	Genres      []string
	Moods       []string
	Duration    int
	// AudioPath is an optional scratch file with reference audio. It is
	// removed once the job finishes.
	AudioPath string
}

type Config struct {
	Store      *task.Store
	Generator  Generator
	Translator Translator
	Scratch    Remover
	Archive    Archive
	Mirror     Mirror
	HTTPClient *http.Client
	Logger     *zap.Logger

	Concurrency           int
	OutputFormat          string
	NormalizationStrategy string
}

type Worker struct {
	store         *task.Store
	generator     Generator
	translator    Translator
	scratch       Remover
	archive       Archive
	mirror        Mirror
	client        *http.Client
	log           *zap.Logger
	pool          *Pool
	outputFormat  string
	normalization string
}

// New creates a worker whose jobs are bound to ctx.
func New(ctx context.Context, cfg *Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	outputFormat := cfg.OutputFormat
	if outputFormat == "" {
		outputFormat = "mp3"
	}
	normalization := cfg.NormalizationStrategy
	if normalization == "" {
		normalization = "peak"
	}
	return &Worker{
		store:         cfg.Store,
		generator:     cfg.Generator,
		translator:    cfg.Translator,
		scratch:       cfg.Scratch,
		archive:       cfg.Archive,
		mirror:        cfg.Mirror,
		client:        client,
		log:           logger.Named("worker"),
		pool:          NewPool(ctx, cfg.Concurrency),
		outputFormat:  outputFormat,
		normalization: normalization,
	}
}

// Submit creates a queued task for the job and schedules it. It returns the
// task id without waiting for the generation.
func (w *Worker) Submit(job *Job) (string, error) {
	id := ulid.Make().String()
	if _, err := w.store.Create(id); err != nil {
		w.removeAudio(job)
		return "", fmt.Errorf("worker: couldn't create task: %w", err)
	}
	job.TaskID = id
	w.log.Info("task queued", zap.String("task", id))
	w.pool.Go(func(ctx context.Context) {
		w.Run(ctx, job)
	})
	return id, nil
}

// Wait blocks until all submitted jobs are finished.
func (w *Worker) Wait() {
	w.pool.Wait()
}

// Run executes the job and records its terminal state.
func (w *Worker) Run(ctx context.Context, job *Job) {
	log := w.log.With(zap.String("task", job.TaskID))
	defer w.removeAudio(job)
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic", zap.Any("panic", r))
			if _, err := w.store.Fail(job.TaskID, fmt.Sprintf("internal error: %v", r)); err != nil {
				log.Error("couldn't mark task failed", zap.Error(err))
			}
		}
	}()

	if _, err := w.store.Start(job.TaskID); err != nil {
		log.Error("couldn't start task", zap.Error(err))
		return
	}
	start := time.Now()
	log.Info("task running")

	track, err := w.generate(ctx, job, log)
	if err != nil {
		log.Error("task failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		msg := err.Error()
		if msg == "" {
			msg = "generation failed"
		}
		if _, err := w.store.Fail(job.TaskID, msg); err != nil {
			log.Error("couldn't mark task failed", zap.Error(err))
		}
		return
	}
	if _, err := w.store.Succeed(job.TaskID, track); err != nil {
		log.Error("couldn't mark task succeeded", zap.Error(err))
		return
	}
	log.Info("task succeeded", zap.String("url", track.AudioURL), zap.Duration("elapsed", time.Since(start)))
}

func (w *Worker) generate(ctx context.Context, job *Job, log *zap.Logger) (*task.Track, error) {
	description := job.Description
	if w.translator != nil {
		description = w.translator.Translate(ctx, description)
	}
	prompt := ComposePrompt(description, job.Genres, job.Moods)
	log.Info("prompt composed", zap.String("prompt", prompt))

	in := &replicate.Input{
		Prompt:                prompt,
		Duration:              job.Duration,
		OutputFormat:          w.outputFormat,
		NormalizationStrategy: w.normalization,
	}
	if job.AudioPath != "" {
		b, err := os.ReadFile(job.AudioPath)
		if err != nil {
			return nil, fmt.Errorf("worker: couldn't read reference audio: %w", err)
		}
		in.SetAudio(filepath.Base(job.AudioPath), b)
	}

	if w.generator == nil {
		return nil, fmt.Errorf("worker: no generator configured")
	}
	source, err := w.generator.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	if source == "" {
		return nil, fmt.Errorf("worker: generator returned no audio url")
	}

	id := uuid.NewString()
	audio, measured := w.mirrorAudio(ctx, id, source, log)
	track := task.NewTrack(id, audio, task.DefaultTitle, job.Genres, job.Moods, job.Duration, task.TypeGenerated)
	w.archiveTrack(ctx, job, track, prompt, source, measured, log)
	return track, nil
}

// mirrorAudio copies the generated audio to the file store. On failure the
// upstream URL is kept.
func (w *Worker) mirrorAudio(ctx context.Context, id, source string, log *zap.Logger) (string, time.Duration) {
	if w.mirror == nil {
		return source, 0
	}
	tmp, err := os.CreateTemp("", "musigen-*.mp3")
	if err != nil {
		log.Warn("couldn't create mirror temp file", zap.Error(err))
		return source, 0
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(path) }()

	if err := sound.Download(ctx, w.client, source, path); err != nil {
		log.Warn("couldn't download audio for mirror", zap.Error(err))
		return source, 0
	}
	measured, err := sound.Duration(path)
	if err != nil {
		log.Warn("couldn't measure audio duration", zap.Error(err))
	} else {
		log.Info("audio measured", zap.Duration("duration", measured))
	}
	u, err := w.mirror.SetMP3(ctx, path, id)
	if err != nil {
		log.Warn("couldn't mirror audio", zap.Error(err))
		return source, measured
	}
	return u, measured
}

func (w *Worker) archiveTrack(ctx context.Context, job *Job, t *task.Track, prompt, source string, measured time.Duration, log *zap.Logger) {
	if w.archive == nil {
		return
	}
	if err := w.archive.SetTrack(ctx, &storage.Track{
		ID:       t.ID,
		TaskID:   job.TaskID,
		Title:    t.Title,
		Type:     t.Type,
		Prompt:   prompt,
		Genres:   storage.JoinTags(t.Genres),
		Moods:    storage.JoinTags(t.Moods),
		Duration: t.Duration,
		Measured: float32(measured.Seconds()),
		Audio:    t.AudioURL,
		Source:   source,
	}); err != nil {
		log.Warn("couldn't archive track", zap.Error(err))
	}
}

func (w *Worker) removeAudio(job *Job) {
	if job.AudioPath == "" {
		return
	}
	var err error
	if w.scratch != nil {
		err = w.scratch.Remove(job.AudioPath)
	} else if rmErr := os.Remove(job.AudioPath); rmErr != nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	if err != nil {
		w.log.Warn("couldn't remove scratch file", zap.String("path", job.AudioPath), zap.Error(err))
	}
}
