package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/metalagman/buildmend/internal/config"
)

const ollamaBaseURL = "http://localhost:11434"

type ollamaProvider struct {
	llm *ollama.LLM
}

func newOllamaLLM(model, baseURL string, httpClient *http.Client) (*ollama.LLM, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = ollamaBaseURL
	}
	opts := []ollama.Option{
		ollama.WithModel(strings.TrimSpace(model)),
		ollama.WithServerURL(baseURL),
	}
	if httpClient != nil {
		opts = append(opts, ollama.WithHTTPClient(httpClient))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return llm, nil
}

func newOllama(cfg config.ModelConfig, httpClient *http.Client) (*ollamaProvider, error) {
	llm, err := newOllamaLLM(cfg.Name, cfg.BaseURL, httpClient)
	if err != nil {
		return nil, err
	}
	return &ollamaProvider{llm: llm}, nil
}

func (p *ollamaProvider) name() string { return "ollama" }

func (p *ollamaProvider) complete(ctx context.Context, req Request) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxOutputTokens))
	}
	if len(req.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(req.Stop))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, p.llm, req.Prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return out, nil
}
