package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/metalagman/buildmend/internal/config"
)

const (
	openAIBaseURL   = "https://api.openai.com/v1"
	openAIAPIKeyEnv = "OPENAI_API_KEY"
)

type openAIProvider struct {
	client openai.Client
	model  string
}

func openAIOptions(key, baseURL string, httpClient *http.Client) []option.RequestOption {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = openAIBaseURL
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return opts
}

func newOpenAI(cfg config.ModelConfig, httpClient *http.Client) (*openAIProvider, error) {
	key := apiKey(cfg.APIKey, cfg.APIKeyEnv, openAIAPIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("openai api key is required (set api_key or api_key_env)")
	}
	return &openAIProvider{
		client: openai.NewClient(openAIOptions(key, cfg.BaseURL, httpClient)...),
		model:  strings.TrimSpace(cfg.Name),
	}, nil
}

func (p *openAIProvider) name() string { return "openai" }

// complete uses the Responses API, which has no stop sequences; the
// structuring prompt asks for raw JSON instead.
func (p *openAIProvider) complete(ctx context.Context, req Request) (string, error) {
	params := responses.ResponseNewParams{
		Model: p.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses.create: %w", err)
	}
	if msg := strings.TrimSpace(resp.Error.Message); msg != "" {
		return "", fmt.Errorf("openai response failed: %s", msg)
	}
	return resp.OutputText(), nil
}
