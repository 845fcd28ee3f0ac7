package replicate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Input is the musicgen input object.
type Input struct {
	Prompt                string `json:"prompt"`
	Duration              int    `json:"duration"`
	OutputFormat          string `json:"output_format,omitempty"`
	NormalizationStrategy string `json:"normalization_strategy,omitempty"`
	InputAudio            string `json:"input_audio,omitempty"`
	Continuation          *bool  `json:"continuation,omitempty"`
}

// SetAudio attaches reference audio as a data URI and disables continuation
// mode so the clip is used as a melody reference.
func (in *Input) SetAudio(name string, b []byte) {
	in.InputAudio = fmt.Sprintf("data:%s;base64,%s", audioMIME(name), base64.StdEncoding.EncodeToString(b))
	continuation := false
	in.Continuation = &continuation
}

func audioMIME(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	default:
		return "audio/wav"
	}
}

type predictionRequest struct {
	Version string `json:"version,omitempty"`
	Input   *Input `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (p *prediction) done() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

func (p *prediction) errorMessage() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return p.Status
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	return string(p.Error)
}

// Run creates a prediction, waits for it to finish and returns the audio URL
// found in its output.
func (c *Client) Run(ctx context.Context, in *Input) (string, error) {
	if c.token == "" {
		return "", ErrNoToken
	}

	// A slug with ":" pins a model version.
	path := fmt.Sprintf("models/%s/predictions", c.model)
	req := &predictionRequest{Input: in}
	if _, version, ok := strings.Cut(c.model, ":"); ok {
		path = "predictions"
		req.Version = version
	}

	var p prediction
	if _, err := c.do(ctx, http.MethodPost, path, req, &p); err != nil {
		return "", fmt.Errorf("replicate: couldn't create prediction: %w", err)
	}
	c.log.Info("prediction created", zap.String("id", p.ID), zap.String("model", c.model), zap.String("status", p.Status))

	for !p.done() {
		t := time.NewTimer(c.wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", fmt.Errorf("replicate: prediction %s: %w", p.ID, ctx.Err())
		case <-t.C:
		}
		get := p.URLs.Get
		if get == "" {
			get = fmt.Sprintf("predictions/%s", p.ID)
		}
		if _, err := c.do(ctx, http.MethodGet, get, nil, &p); err != nil {
			return "", fmt.Errorf("replicate: couldn't get prediction: %w", err)
		}
	}
	if p.Status != "succeeded" {
		return "", fmt.Errorf("replicate: prediction %s %s: %s", p.ID, p.Status, p.errorMessage())
	}

	u, ok := ExtractAudioURL(p.Output)
	if !ok {
		raw := string(p.Output)
		if len(raw) > 200 {
			raw = raw[:200] + "..."
		}
		return "", fmt.Errorf("replicate: prediction %s returned no audio url (raw=%s)", p.ID, raw)
	}
	c.log.Info("prediction succeeded", zap.String("id", p.ID), zap.String("url", u))
	return u, nil
}
