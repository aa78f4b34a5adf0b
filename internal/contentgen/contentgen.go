// Package contentgen produces post and reply text for agents.
package contentgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"botfleet/internal/config"
	"botfleet/internal/models"
)

const ServiceName = "llm"

// Generator is a content backend. Ping checks credentials and reachability.
type Generator interface {
	Generate(ctx context.Context, topic, tone string) (string, error)
	GenerateReply(ctx context.Context, original, tone string) (string, error)
	Analyze(ctx context.Context, text string) (models.Analysis, error)
	Ping(ctx context.Context) error
}

// analysisMaxTokens leaves room for the JSON object and nothing else.
const analysisMaxTokens = 200

// UsageRecorder counts outbound calls against the daily budget.
type UsageRecorder interface {
	RecordAPICall(ctx context.Context, service, endpoint string) error
}

// New picks the backend named by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig, timeout time.Duration, usage UsageRecorder, logger *zap.Logger) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg, timeout, usage, logger), nil
	case "gemini":
		return NewGemini(ctx, cfg, usage, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func tweetPrompt(topic, tone string) string {
	return fmt.Sprintf(`Write a social media post about "%s" in a %s voice.

Rules:
- at most 280 characters
- engaging and on topic
- hashtags only where they fit naturally
- no surrounding quotation marks

Reply with the post text only.`, topic, tone)
}

func replyPrompt(original, tone string) string {
	return fmt.Sprintf(`Write a reply to the post below in a %s voice.

Post: "%s"

Rules:
- at most 280 characters
- respond to what the post actually says and add something to it
- no surrounding quotation marks

Reply with the reply text only.`, tone, original)
}

func analysisPrompt(text string) string {
	return fmt.Sprintf(`Analyze the social media post below. Rate how worthwhile it is to engage with.

Post: "%s"

Reply with a JSON object only, no prose:
{"sentiment": "positive" | "negative" | "neutral", "topics": [string], "engagement_score": integer 0-100}`, text)
}

// parseAnalysis reads the JSON object out of a completion, tolerating code
// fences or prose around it. The score is clamped to 0-100.
func parseAnalysis(raw string) (models.Analysis, error) {
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return models.Analysis{}, fmt.Errorf("LLM API Error: analysis is not a JSON object: %q", raw)
	}
	var payload struct {
		Sentiment       string   `json:"sentiment"`
		Topics          []string `json:"topics"`
		EngagementScore float64  `json:"engagement_score"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return models.Analysis{}, fmt.Errorf("LLM API Error: decode analysis: %w", err)
	}
	score := int(math.Round(payload.EngagementScore))
	return models.Analysis{
		Sentiment:       strings.ToLower(strings.TrimSpace(payload.Sentiment)),
		Topics:          payload.Topics,
		EngagementScore: min(max(score, 0), 100),
	}, nil
}

// cleanText strips whitespace and wrapping quotes models tend to add.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, "“", "'"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(s) >= 2 && strings.HasPrefix(s, q) && strings.HasSuffix(s, closing) {
			s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, q), closing))
		}
	}
	return s
}
