// Package llm provides the text generation capability used by the review
// agent. A Generator is built once at startup and shared by all reviews.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider names accepted in Config.Provider.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ErrNoAPIKey is returned when no key is configured for the provider.
var ErrNoAPIKey = errors.New("llm: api key not configured")

// Generator turns a prompt into free text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	MaxTokens int
	Timeout   time.Duration
	BaseURL   string // optional endpoint override
}

// keyEnv maps a provider to the environment variable consulted when no key
// is configured.
var keyEnv = map[string]string{
	ProviderGemini:    "GEMINI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
}

// ResolveAPIKey returns cfg.APIKey, falling back to the provider's standard
// environment variable.
func ResolveAPIKey(cfg Config) string {
	if cfg.APIKey != "" {
		return cfg.APIKey
	}
	if env, ok := keyEnv[cfg.Provider]; ok {
		return os.Getenv(env)
	}
	return ""
}

// New builds the Generator for cfg.Provider, wrapped with cfg.Timeout.
func New(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	cfg.APIKey = ResolveAPIKey(cfg)
	if cfg.APIKey == "" {
		if env, ok := keyEnv[cfg.Provider]; ok {
			return nil, fmt.Errorf("%w: set llm.api_key or %s", ErrNoAPIKey, env)
		}
	}

	var gen Generator
	var err error
	switch cfg.Provider {
	case ProviderGemini:
		gen, err = NewGemini(ctx, cfg)
	case ProviderAnthropic:
		gen = NewAnthropic(cfg)
	case ProviderOpenAI:
		gen = NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (use gemini, anthropic or openai)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(gen, cfg.Timeout), nil
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout bounds every Generate call on g by d. A non-positive d
// returns g unchanged.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return &timeoutGenerator{next: g, timeout: d}
}

func (t *timeoutGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := t.next.Generate(ctx, prompt)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("generate: %w", ctx.Err())
	}
}

// StripCodeFence removes a surrounding markdown code fence, if present.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
