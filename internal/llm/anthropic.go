package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/metalagman/buildmend/internal/config"
)

const (
	anthropicAPIKeyEnv       = "ANTHROPIC_API_KEY"
	anthropicDefaultMaxToken = 1024
)

type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropic(cfg config.ModelConfig, httpClient *http.Client) (*anthropicProvider, error) {
	key := apiKey(cfg.APIKey, cfg.APIKeyEnv, anthropicAPIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("anthropic api key is required (set api_key or api_key_env)")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &anthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  strings.TrimSpace(cfg.Name),
	}, nil
}

func (p *anthropicProvider) name() string { return "anthropic" }

func (p *anthropicProvider) complete(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicDefaultMaxToken,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = int64(req.MaxOutputTokens)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.create: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
