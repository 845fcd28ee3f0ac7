package translate

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrDisabled is returned by translators that are missing credentials.
var ErrDisabled = errors.New("translate: not configured")

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Safe wraps a translator so it never fails. Any error, empty output or a nil
// translator results in the original text being returned.
func Safe(t Translator, logger *zap.Logger) *SafeTranslator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafeTranslator{t: t, log: logger.Named("translate")}
}

type SafeTranslator struct {
	t   Translator
	log *zap.Logger
}

func (s *SafeTranslator) Translate(ctx context.Context, text string) string {
	if s == nil || s.t == nil {
		return text
	}
	if strings.TrimSpace(text) == "" {
		s.log.Debug("empty text, skipping translation")
		return text
	}
	out, err := s.t.Translate(ctx, text)
	if errors.Is(err, ErrDisabled) {
		s.log.Debug("translation disabled, using original text")
		return text
	}
	if err != nil {
		s.log.Warn("translation failed, using original text", zap.Error(err))
		return text
	}
	if strings.TrimSpace(out) == "" {
		s.log.Warn("translation returned empty text, using original text")
		return text
	}
	s.log.Info("translated", zap.String("source", text), zap.String("target", out))
	return out
}

// New returns the translator for the given provider.
func New(provider string, cfg *Config) (Translator, error) {
	switch provider {
	case "", "papago":
		return NewPapago(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "none":
		return nil, nil
	default:
		return nil, errors.New("translate: unknown provider " + provider)
	}
}

type Config struct {
	ID      string
	Secret  string
	Key     string
	Model   string
	BaseURL string
	Source  string
	Target  string
	Debug   bool
}

func (c *Config) languages() (string, string) {
	source, target := c.Source, c.Target
	if source == "" {
		source = "ko"
	}
	if target == "" {
		target = "en"
	}
	return source, target
}
