package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/metalagman/buildmend/internal/config"
)

const geminiAPIKeyEnv = "GEMINI_API_KEY"

type geminiProvider struct {
	client *genai.Client
	model  string
}

func newGemini(ctx context.Context, cfg config.ModelConfig, httpClient *http.Client) (*geminiProvider, error) {
	key := apiKey(cfg.APIKey, cfg.APIKeyEnv, geminiAPIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("gemini api key is required (set api_key or api_key_env)")
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiProvider{client: client, model: strings.TrimSpace(cfg.Name)}, nil
}

func (p *geminiProvider) name() string { return "gemini" }

func (p *geminiProvider) complete(ctx context.Context, req Request) (string, error) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if len(req.Stop) > 0 {
		gc.StopSequences = req.Stop
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), gc)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return resp.Text(), nil
}
