// Package llm talks to a local text-generation model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2:3b"
	defaultTimeout = 30 * time.Second
)

// ErrEmptyReply is returned when the model answers with no content.
var ErrEmptyReply = errors.New("llm: empty reply")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
}

type chatResponse struct {
	Model         string  `json:"model"`
	Message       Message `json:"message"`
	TotalDuration int64   `json:"total_duration"`
}

// OllamaClient calls the Ollama chat API.
type OllamaClient struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	logger     *zap.Logger
}

// NewOllamaClient returns a client for baseURL and model; empty values use the local defaults.
func NewOllamaClient(baseURL, model string, logger *zap.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Model:      model,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// Complete sends prompt as a single user message. When schema is non-nil the model is asked for structured output.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, schema []byte) (string, error) {
	reqBody := chatRequest{
		Model:    c.Model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	if len(schema) > 0 {
		reqBody.Format = json.RawMessage(schema)
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm: request failed status=%d body=%s", resp.StatusCode, string(b))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	c.logger.Debug("llm reply",
		zap.String("model", out.Model),
		zap.Duration("total_duration", time.Duration(out.TotalDuration)),
	)
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", ErrEmptyReply
	}
	return out.Message.Content, nil
}
