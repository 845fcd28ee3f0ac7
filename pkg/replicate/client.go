package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultModel   = "meta/musicgen"
	defaultBaseURL = "https://api.replicate.com/v1"
)

var ErrNoToken = errors.New("replicate: api token is not configured")

type Client struct {
	client  *http.Client
	log     *zap.Logger
	debug   bool
	token   string
	model   string
	baseURL string
	wait    time.Duration
}

type Config struct {
	Token   string
	Model   string
	BaseURL string
	Wait    time.Duration
	Debug   bool
	Client  *http.Client
	Logger  *zap.Logger
}

func New(cfg *Config) *Client {
	wait := cfg.Wait
	if wait == 0 {
		wait = 2 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client:  client,
		log:     logger.Named("replicate"),
		debug:   cfg.Debug,
		token:   cfg.Token,
		model:   model,
		baseURL: baseURL,
		wait:    wait,
	}
}

// Model returns the model slug used for predictions.
func (c *Client) Model() string {
	return c.model
}

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

// StatusCode returns the HTTP status code carried by err, if any.
func StatusCode(err error) (int, bool) {
	var e errStatusCode
	if errors.As(err, &e) {
		return int(e), true
	}
	return 0, false
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body []byte
	var reqBody io.Reader
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("replicate: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}
	if c.debug {
		logBody := string(body)
		if len(logBody) > 300 {
			logBody = logBody[:300] + "..."
		}
		c.log.Debug("request", zap.String("method", method), zap.String("path", path), zap.String("body", logBody))
	}

	u := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
	if strings.HasPrefix(path, "http") {
		u = path
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("replicate: couldn't create request: %w", err)
	}
	req.Header.Set("authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("accept", "application/json")
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: couldn't %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("replicate: couldn't read response body: %w", err)
	}
	if c.debug {
		c.log.Debug("response", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode), zap.ByteString("body", respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 200 {
			errMessage = errMessage[:200] + "..."
		}
		return nil, fmt.Errorf("replicate: %s %s returned (%s): %w", method, u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("replicate: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return respBody, nil
}
