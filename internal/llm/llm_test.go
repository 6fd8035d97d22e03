package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalagman/buildmend/internal/config"
)

func captureServer(t *testing.T, response string) (*httptest.Server, *map[string]any, *string) {
	t.Helper()
	var body map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &body, &path
}

func TestClient_OpenAI(t *testing.T) {
	const envKey = "BUILDMEND_OPENAI_TEST_KEY"
	t.Setenv(envKey, "test-api-key")

	srv, body, path := captureServer(t, `{
		"error": {"code": "", "message": ""},
		"output": [
			{
				"type": "message",
				"role": "assistant",
				"content": [
					{"type": "output_text", "text": "1. PROBLEM: missing semicolon", "annotations": []}
				]
			}
		]
	}`)

	c, err := New(context.Background(), config.ModelConfig{
		Provider:  "openai",
		Name:      "gpt-4o-mini",
		BaseURL:   srv.URL,
		APIKeyEnv: envKey,
		Timeout:   5 * time.Second,
	}, srv.Client())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), Request{Prompt: "fix it", Temperature: 0.3, MaxOutputTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "1. PROBLEM: missing semicolon", out)
	assert.Equal(t, "/responses", *path)
	assert.Equal(t, "gpt-4o-mini", (*body)["model"])
	assert.Equal(t, "fix it", (*body)["input"])
	assert.InDelta(t, 0.3, (*body)["temperature"], 1e-9)
	assert.EqualValues(t, 256, (*body)["max_output_tokens"])
}

func TestClient_Anthropic(t *testing.T) {
	t.Parallel()

	srv, body, path := captureServer(t, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "{\"fixes\": []}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 3, "output_tokens": 4}
	}`)

	c, err := New(context.Background(), config.ModelConfig{
		Provider: "anthropic",
		Name:     "claude-test",
		BaseURL:  srv.URL,
		APIKey:   "k",
		Timeout:  5 * time.Second,
	}, srv.Client())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), Request{Prompt: "convert", Stop: []string{"User:"}, MaxOutputTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, `{"fixes": []}`, out)
	assert.Equal(t, "/v1/messages", *path)
	assert.EqualValues(t, 512, (*body)["max_tokens"])
	assert.Equal(t, []any{"User:"}, (*body)["stop_sequences"])
}

func TestNew_Errors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(context.Background(), config.ModelConfig{Provider: "openai", Name: "x"}, nil)
	assert.ErrorContains(t, err, "api key")

	_, err = New(context.Background(), config.ModelConfig{Provider: "carrier-pigeon", Name: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported")

	_, err = New(context.Background(), config.ModelConfig{Provider: "ollama"}, nil)
	assert.ErrorContains(t, err, "model name")
}

type fakeCompleter func(ctx context.Context, req Request) (string, error)

func (f fakeCompleter) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func TestClient_TimeoutIsDeadlineExceeded(t *testing.T) {
	t.Parallel()

	c := NewWithProvider(fakeCompleter(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 20*time.Millisecond)

	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_EmptyOutput(t *testing.T) {
	t.Parallel()

	c := NewWithProvider(fakeCompleter(func(context.Context, Request) (string, error) {
		return "  \n", nil
	}), time.Second)

	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.ErrorIs(t, err, ErrEmptyOutput)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv, body, path := captureServer(t, `{
		"object": "list",
		"model": "text-embedding-3-small",
		"data": [
			{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]},
			{"object": "embedding", "index": 0, "embedding": [1.0, 0.0]}
		],
		"usage": {"prompt_tokens": 2, "total_tokens": 2}
	}`)

	t.Setenv("BUILDMEND_EMBED_TEST_KEY", "k")
	e, err := NewEmbedder(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL, APIKeyEnv: "BUILDMEND_EMBED_TEST_KEY"}, srv.Client())
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, "/embeddings", *path)
	assert.Equal(t, []any{"a", "b"}, (*body)["input"])
}

func TestNewEmbedder_None(t *testing.T) {
	t.Parallel()

	e, err := NewEmbedder(config.EmbeddingConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, e)
}
