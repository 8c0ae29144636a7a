// Package llm provides a chat-completions client used for relation judging
// prompts.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Completion is the result of one chat completion call
type Completion struct {
	Content     string `json:"content"`
	Model       string `json:"model"`
	TokensUsed  int    `json:"tokens_used"`
	InputTokens int    `json:"input_tokens"`
}

// Client produces text completions for prompts
type Client interface {
	Complete(ctx context.Context, prompt string) (*Completion, error)
	Model() string
	HealthCheck(ctx context.Context) error
}

// Options configures the chat client
type Options struct {
	APIKey      string        `json:"-"` // Never serialize the API key
	BaseURL     string        `json:"base_url"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// ChatClient talks to an OpenAI-compatible chat completions endpoint
type ChatClient struct {
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewChatClient creates a chat completions client
func NewChatClient(opts Options, logger *zap.Logger) (*ChatClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("LLM model is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatClient{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}, nil
}

// Complete sends the prompt as a single user message and returns the first
// choice's content.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (*Completion, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	reqBody := chatRequest{
		Model:       c.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		Stream:      false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LLM API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("LLM API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("LLM response contained no choices")
	}

	c.logger.Debug("completion received",
		zap.String("model", parsed.Model),
		zap.Int("total_tokens", parsed.Usage.TotalTokens))

	return &Completion{
		Content:     parsed.Choices[0].Message.Content,
		Model:       parsed.Model,
		TokensUsed:  parsed.Usage.TotalTokens,
		InputTokens: parsed.Usage.PromptTokens,
	}, nil
}

// Model returns the configured model identifier
func (c *ChatClient) Model() string {
	return c.opts.Model
}

// HealthCheck sends a minimal prompt with a short timeout
func (c *ChatClient) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := c.Complete(healthCtx, "Hello")
	return err
}
