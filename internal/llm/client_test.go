package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewChatClient(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{
			name: "valid",
			opts: Options{APIKey: "k", Model: "gpt-4o-mini"},
		},
		{
			name:    "missing API key",
			opts:    Options{Model: "gpt-4o-mini"},
			wantErr: "API key",
		},
		{
			name:    "missing model",
			opts:    Options{APIKey: "k"},
			wantErr: "model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewChatClient(tt.opts, zap.NewNop())
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.opts.Model, client.Model())
		})
	}
}

func TestCompleteRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Temperature float64 `json:"temperature"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "judge this pair", req.Messages[0].Content)
		assert.Equal(t, 0.0, req.Temperature)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "RELATED"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 1, "total_tokens": 43}
		}`))
	}))
	defer server.Close()

	client, err := NewChatClient(Options{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	completion, err := client.Complete(context.Background(), "judge this pair")
	require.NoError(t, err)
	assert.Equal(t, "RELATED", completion.Content)
	assert.Equal(t, 43, completion.TokensUsed)
	assert.Equal(t, 42, completion.InputTokens)
}

func TestCompleteEmptyPrompt(t *testing.T) {
	client, err := NewChatClient(Options{APIKey: "k", Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "   ")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit", "message": "slow down"}}`))
	}))
	defer server.Close()

	client, err := NewChatClient(Options{APIKey: "k", BaseURL: server.URL, Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "prompt")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "model": "m", "choices": [], "usage": {}}`))
	}))
	defer server.Close()

	client, err := NewChatClient(Options{APIKey: "k", BaseURL: server.URL, Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "prompt")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
