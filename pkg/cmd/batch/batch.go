package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/igolaizola/musigen/pkg/cmd/generate"
	"github.com/igolaizola/musigen/pkg/service"
	"github.com/igolaizola/musigen/pkg/task"
	"github.com/igolaizola/musigen/pkg/worker"
	"go.uber.org/zap"
)

type Config struct {
	Service service.Config
	Timeout time.Duration

	Input   string
	Results string
	Output  string
}

// input is a batch row. Lists are separated by "|".
type input struct {
	Description string `csv:"description"`
	Genres      string `csv:"genres"`
	Moods       string `csv:"moods"`
	Duration    string `csv:"duration"`
	Audio       string `csv:"audio"`
}

type item struct {
	Description string
	Genres      []string
	Moods       []string
	Duration    int
	Audio       string
}

type Result struct {
	Description string `csv:"description"`
	TaskID      string `csv:"task_id"`
	Status      string `csv:"status"`
	TrackID     string `csv:"track_id"`
	AudioURL    string `csv:"audio_url"`
	File        string `csv:"file"`
	Error       string `csv:"error"`
}

// Run submits every input, waits for all of them and writes the results.
func Run(ctx context.Context, cfg *Config) ([]*Result, error) {
	log := cfg.Service.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("batch")
	var failed int
	log.Info("process started")
	defer func() {
		log.Info("process ended", zap.Int("failed", failed))
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	inputs, err := readInputs(cfg.Input)
	if err != nil {
		return nil, err
	}
	if cfg.Output != "" {
		if err := os.MkdirAll(cfg.Output, 0755); err != nil {
			return nil, fmt.Errorf("batch: couldn't create output folder: %w", err)
		}
	}

	svc, err := service.New(ctx, &cfg.Service)
	if err != nil {
		return nil, fmt.Errorf("batch: couldn't create service: %w", err)
	}
	defer svc.Close()

	results := make([]*Result, len(inputs))
	for i, in := range inputs {
		r := &Result{Description: in.Description}
		results[i] = r
		job, err := toJob(svc, in)
		if err != nil {
			r.Status = string(task.Failed)
			r.Error = err.Error()
			continue
		}
		id, err := svc.Worker.Submit(job)
		if err != nil {
			r.Status = string(task.Failed)
			r.Error = err.Error()
			continue
		}
		r.TaskID = id
		log.Debug("task submitted", zap.Int("row", i+1), zap.String("task", id))
	}

	for _, r := range results {
		if r.TaskID == "" {
			failed++
			continue
		}
		t, err := svc.Wait(ctx, r.TaskID)
		if err != nil {
			return nil, fmt.Errorf("batch: couldn't wait for task %s: %w", r.TaskID, err)
		}
		r.Status = string(t.Status)
		r.AudioURL = t.AudioURL
		r.Error = t.Error
		if t.Status != task.Succeeded {
			failed++
			log.Warn("task failed", zap.String("task", t.ID), zap.String("error", t.Error))
			continue
		}
		r.TrackID = t.Result.ID
		if cfg.Output == "" {
			continue
		}
		output := generate.Output(cfg.Output, t.Result.ID)
		if err := svc.Download(ctx, t, output); err != nil {
			log.Warn("couldn't download track", zap.String("task", t.ID), zap.Error(err))
			continue
		}
		r.File = output
	}

	if cfg.Results != "" {
		if err := writeResults(cfg.Results, results); err != nil {
			return nil, err
		}
		log.Info("results written", zap.String("file", cfg.Results))
	}
	return results, nil
}

func toJob(svc *service.Service, in *item) (*worker.Job, error) {
	job := &worker.Job{
		Description: in.Description,
		Genres:      in.Genres,
		Moods:       in.Moods,
		Duration:    service.Duration(in.Duration),
	}
	if in.Audio == "" {
		return job, nil
	}
	f, err := os.Open(in.Audio)
	if err != nil {
		return nil, fmt.Errorf("batch: couldn't open input audio: %w", err)
	}
	defer f.Close()
	path, err := svc.Scratch.Save(filepath.Base(in.Audio), f)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	job.AudioPath = path
	return job, nil
}

func readInputs(file string) ([]*item, error) {
	if file == "" {
		return nil, fmt.Errorf("batch: input file not specified")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("batch: couldn't read input file: %w", err)
	}
	var items []*item
	switch ext := filepath.Ext(file); ext {
	case ".json":
		// Rows follow the same lenient rules as the submit endpoint.
		var rows []map[string]json.RawMessage
		if err := json.Unmarshal(b, &rows); err != nil {
			return nil, fmt.Errorf("batch: couldn't unmarshal items: %w", err)
		}
		for _, row := range rows {
			items = append(items, &item{
				Description: service.RawString(row["description"]),
				Genres:      service.RawList(row["genres"]),
				Moods:       service.RawList(row["moods"]),
				Duration:    service.RawDuration(row["duration"]),
				Audio:       service.RawString(row["audio"]),
			})
		}
	case ".csv":
		var rows []*input
		if err := gocsv.UnmarshalBytes(b, &rows); err != nil {
			return nil, fmt.Errorf("batch: couldn't unmarshal items: %w", err)
		}
		for _, row := range rows {
			items = append(items, &item{
				Description: row.Description,
				Genres:      service.SplitList(row.Genres, "|"),
				Moods:       service.SplitList(row.Moods, "|"),
				Duration:    service.ParseDuration(row.Duration),
				Audio:       strings.TrimSpace(row.Audio),
			})
		}
	default:
		return nil, fmt.Errorf("batch: unsupported input format: %s", ext)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("batch: no inputs found in file")
	}
	return items, nil
}

func writeResults(file string, results []*Result) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("batch: couldn't create results file: %w", err)
	}
	if err := gocsv.MarshalFile(&results, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("batch: couldn't write results: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("batch: couldn't close results file: %w", err)
	}
	return nil
}
