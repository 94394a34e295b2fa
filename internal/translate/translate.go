// Package translate wraps the text translation service. Every failure
// degrades to the untranslated input reported as English, so callers
// never branch on translation errors.
package translate

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
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// English is the language code reported on degrade.
const English = "en"

// ErrTranslateFailed wraps every service failure returned by Call.
var ErrTranslateFailed = errors.New("translation failed")

// Result is a translation outcome.
type Result struct {
	Text             string
	DetectedLanguage string
}

// IsEnglish reports whether the detected source language is English.
func (r Result) IsEnglish() bool {
	return r.DetectedLanguage == "" || strings.HasPrefix(strings.ToLower(r.DetectedLanguage), English)
}

// Translator translates text to the configured target language.
type Translator interface {
	Translate(ctx context.Context, text string) Result
}

// Client calls the translation HTTP API.
type Client struct {
	url     string
	apiKey  config.Secret
	target  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewClient builds a client from cfg. httpClient may be nil.
func NewClient(cfg config.TranslateConfig, httpClient *http.Client, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	if httpClient == nil {
		timeout := cfg.Timeout.Duration()
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	target := cfg.TargetLanguage
	if target == "" {
		target = English
	}
	return &Client{
		url:     strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		target:  target,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("translate"),
	}
}

type request struct {
	Text               string `json:"text"`
	TargetLanguageCode string `json:"targetLanguageCode"`
}

type response struct {
	Translations []struct {
		TranslatedText       string `json:"translatedText"`
		DetectedLanguageCode string `json:"detectedLanguageCode"`
	} `json:"translations"`
}

// Translate returns the translation of text, or text itself reported
// as English when the service cannot be reached or answers badly.
func (c *Client) Translate(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Text: text, DetectedLanguage: English}
	}
	res, err := c.Call(ctx, text)
	if err != nil {
		c.logger.Warn(ctx, "translation failed, keeping original text", zap.Error(err))
		return Result{Text: text, DetectedLanguage: English}
	}
	return res
}

// Call performs one translation request.
func (c *Client) Call(ctx context.Context, text string) (Result, error) {
	if c.url == "" {
		return Result{}, fmt.Errorf("%w: no url configured", ErrTranslateFailed)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: rate limiter: %v", ErrTranslateFailed, err)
	}

	body, err := json.Marshal(request{Text: text, TargetLanguageCode: c.target})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey.IsSet() {
		req.Header.Set("X-Goog-Api-Key", c.apiKey.Value())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranslateFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrTranslateFailed, resp.StatusCode, string(msg))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decoding response: %v", ErrTranslateFailed, err)
	}
	if len(out.Translations) == 0 {
		return Result{}, fmt.Errorf("%w: no translations", ErrTranslateFailed)
	}
	t := out.Translations[0]
	return Result{Text: t.TranslatedText, DetectedLanguage: t.DetectedLanguageCode}, nil
}

// Identity is a Translator that returns its input as English.
type Identity struct{}

func (Identity) Translate(_ context.Context, text string) Result {
	return Result{Text: text, DetectedLanguage: English}
}
