package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const papagoURL = "https://papago.apigw.ntruss.com/nmt/v1/translation"

type Papago struct {
	client *http.Client
	id     string
	secret string
	url    string
	source string
	target string
}

func NewPapago(cfg *Config) *Papago {
	u := cfg.BaseURL
	if u == "" {
		u = papagoURL
	}
	source, target := cfg.languages()
	return &Papago{
		client: &http.Client{Timeout: 5 * time.Second},
		id:     cfg.ID,
		secret: cfg.Secret,
		url:    u,
		source: source,
		target: target,
	}
}

type papagoResponse struct {
	Message struct {
		Result struct {
			TranslatedText string `json:"translatedText"`
		} `json:"result"`
	} `json:"message"`
}

func (p *Papago) Translate(ctx context.Context, text string) (string, error) {
	if p.id == "" || p.secret == "" {
		return "", ErrDisabled
	}
	form := url.Values{}
	form.Set("source", p.source)
	form.Set("target", p.target)
	form.Set("text", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("papago: couldn't create request: %w", err)
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-NCP-APIGW-API-KEY-ID", p.id)
	req.Header.Set("X-NCP-APIGW-API-KEY", p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("papago: couldn't post translation: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("papago: couldn't read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("papago: translation returned %d: %s", resp.StatusCode, string(b))
	}
	var out papagoResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("papago: couldn't unmarshal response body: %w", err)
	}
	if out.Message.Result.TranslatedText == "" {
		return "", fmt.Errorf("papago: translated text not found: %s", string(b))
	}
	return out.Message.Result.TranslatedText, nil
}
