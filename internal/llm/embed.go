package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/metalagman/buildmend/internal/config"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedder returns the configured embedder, or nil when the provider is
// "none".
func NewEmbedder(cfg config.EmbeddingConfig, httpClient *http.Client) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "openai":
		key := apiKey("", cfg.APIKeyEnv, openAIAPIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("openai api key is required for embeddings (set embedding.api_key_env)")
		}
		model := strings.TrimSpace(cfg.Name)
		if model == "" {
			model = defaultOpenAIEmbeddingModel
		}
		return &openAIEmbedder{
			client: openai.NewClient(openAIOptions(key, cfg.BaseURL, httpClient)...),
			model:  model,
		}, nil
	case "ollama":
		model := strings.TrimSpace(cfg.Name)
		if model == "" {
			return nil, fmt.Errorf("embedding.name is required for ollama embeddings")
		}
		llm, err := newOllamaLLM(model, cfg.BaseURL, httpClient)
		if err != nil {
			return nil, err
		}
		return &ollamaEmbedder{llm: llm}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

type openAIEmbedder struct {
	client openai.Client
	model  string
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings.create: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

type ollamaEmbedder struct {
	llm *ollama.LLM
}

func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	return vecs, nil
}
