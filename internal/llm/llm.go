// Package llm is the text completion boundary: prompt in, text out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/buildmend/internal/config"
)

// ErrEmptyOutput is returned when a provider answers with no text.
var ErrEmptyOutput = errors.New("model returned empty output")

const defaultTimeout = 180 * time.Second

// Request is one single-turn completion.
type Request struct {
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
	Stop            []string
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type provider interface {
	complete(ctx context.Context, req Request) (string, error)
	name() string
}

// Client bounds every provider call with a timeout and rejects empty output.
type Client struct {
	provider provider
	model    string
	timeout  time.Duration
}

// New builds a client for the configured provider. httpClient may be nil.
func New(ctx context.Context, cfg config.ModelConfig, httpClient *http.Client) (*Client, error) {
	model := strings.TrimSpace(cfg.Name)
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var (
		p   provider
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		p, err = newOpenAI(cfg, httpClient)
	case "anthropic":
		p, err = newAnthropic(cfg, httpClient)
	case "gemini":
		p, err = newGemini(ctx, cfg, httpClient)
	case "ollama", "":
		p, err = newOllama(cfg, httpClient)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &Client{provider: p, model: model, timeout: timeout}, nil
}

// NewWithProvider wraps a custom completer, mainly for tests and adapters.
func NewWithProvider(c Completer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{provider: completerProvider{c}, model: "custom", timeout: timeout}
}

// Complete runs one completion. Deadline overruns surface as
// context.DeadlineExceeded.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.provider.complete(ctx, req)
	logger := log.With().Str("provider", c.provider.name()).Str("model", c.model).Dur("elapsed", time.Since(start)).Logger()
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s after %s: %w", c.provider.name(), c.timeout, context.DeadlineExceeded)
		}
		logger.Warn().Err(err).Msg("model call failed")
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		logger.Warn().Msg("model returned empty output")
		return "", ErrEmptyOutput
	}
	logger.Debug().Int("chars", len(out)).Msg("model call finished")
	return out, nil
}

type completerProvider struct {
	c Completer
}

func (p completerProvider) complete(ctx context.Context, req Request) (string, error) {
	return p.c.Complete(ctx, req)
}

func (completerProvider) name() string { return "custom" }

// apiKey resolves the key from config, then from the named env var, then
// from fallbackEnv.
func apiKey(key, keyEnv, fallbackEnv string) string {
	if k := strings.TrimSpace(key); k != "" {
		return k
	}
	env := strings.TrimSpace(keyEnv)
	if env == "" {
		env = fallbackEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}
