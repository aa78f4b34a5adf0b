package contentgen

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

	"botfleet/internal/config"
	"botfleet/internal/models"
)

const chatCompletionsPath = "/chat/completions"

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	http        *http.Client
	usage       UsageRecorder
	logger      *zap.Logger
}

func NewOpenAI(cfg config.LLMConfig, timeout time.Duration, usage UsageRecorder, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        &http.Client{Timeout: timeout},
		usage:       usage,
		logger:      logger.Named("openai"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAI) Generate(ctx context.Context, topic, tone string) (string, error) {
	return c.complete(ctx, tweetPrompt(topic, tone), c.maxTokens)
}

func (c *OpenAI) GenerateReply(ctx context.Context, original, tone string) (string, error) {
	return c.complete(ctx, replyPrompt(original, tone), c.maxTokens)
}

func (c *OpenAI) Analyze(ctx context.Context, text string) (models.Analysis, error) {
	raw, err := c.complete(ctx, analysisPrompt(text), analysisMaxTokens)
	if err != nil {
		return models.Analysis{}, err
	}
	return parseAnalysis(raw)
}

// Ping sends a minimal completion to verify the key and endpoint.
func (c *OpenAI) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, "Reply with the single word: ok", 5)
	return err
}

func (c *OpenAI) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("LLM API Error: no api key configured")
	}
	if c.usage != nil {
		if err := c.usage.RecordAPICall(ctx, ServiceName, chatCompletionsPath); err != nil {
			c.logger.Warn("record llm usage", zap.Error(err))
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("LLM API Error: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("LLM API Error: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("LLM API Error: %s", apiErrorMessage(resp.StatusCode, raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("LLM API Error: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("LLM API Error: empty completion")
	}
	text := cleanText(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("LLM API Error: empty completion")
	}
	c.logger.Debug("completion",
		zap.String("model", c.model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("chars", len(text)),
	)
	return text, nil
}

// apiErrorMessage pulls a readable message out of the common error shapes:
// {"message": ...} and {"error": {"message": ...}}.
func apiErrorMessage(status int, raw []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(payload.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return fmt.Sprintf("http %d", status)
}
