package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var languageNames = map[string]string{
	"ko": "Korean",
	"en": "English",
	"ja": "Japanese",
	"zh": "Chinese",
	"es": "Spanish",
}

func languageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return code
}

// OpenAI translates with a chat completion model.
type OpenAI struct {
	client *openai.Client
	model  string
	source string
	target string
}

func NewOpenAI(cfg *Config) *OpenAI {
	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	source, target := cfg.languages()
	o := &OpenAI{
		model:  model,
		source: source,
		target: target,
	}
	if cfg.Key != "" {
		c := openai.DefaultConfig(cfg.Key)
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		o.client = openai.NewClientWithConfig(c)
	}
	return o
}

func (o *OpenAI) Translate(ctx context.Context, text string) (string, error) {
	if o.client == nil {
		return "", ErrDisabled
	}
	system := fmt.Sprintf("Translate the user's %s text describing a piece of music into %s. Reply with the translation only.",
		languageName(o.source), languageName(o.target))
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: couldn't create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
