package contentgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"botfleet/internal/config"
	"botfleet/internal/models"
	"botfleet/internal/ratelimit"
)

// ErrBudgetExhausted means every configured model is out of quota.
var ErrBudgetExhausted = errors.New("all models are over their request budget")

type modelCaller func(ctx context.Context, model, prompt string) (string, error)

// Gemini generates text through the Gemini API, falling back across models
// as each one runs out of per-minute or per-day budget.
type Gemini struct {
	models      []config.ModelBudget
	limiter     *ratelimit.Limiter
	call        modelCaller
	usage       UsageRecorder
	logger      *zap.Logger
	now         func() time.Time
	temperature float32
	maxTokens   int32
}

func NewGemini(ctx context.Context, cfg config.LLMConfig, usage UsageRecorder, logger *zap.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini requires an api key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g := newGemini(cfg, usage, logger, nil)
	g.call = func(ctx context.Context, model, prompt string) (string, error) {
		result, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(g.temperature),
			MaxOutputTokens: g.maxTokens,
		})
		if err != nil {
			return "", err
		}
		if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil ||
			len(result.Candidates[0].Content.Parts) == 0 {
			return "", errors.New("empty response")
		}
		return result.Candidates[0].Content.Parts[0].Text, nil
	}
	return g, nil
}

func newGemini(cfg config.LLMConfig, usage UsageRecorder, logger *zap.Logger, call modelCaller) *Gemini {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		models:      cfg.Models,
		limiter:     ratelimit.NewLimiter(),
		call:        call,
		usage:       usage,
		logger:      logger.Named("gemini"),
		now:         time.Now,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}
}

func (g *Gemini) Generate(ctx context.Context, topic, tone string) (string, error) {
	return g.generate(ctx, tweetPrompt(topic, tone))
}

func (g *Gemini) GenerateReply(ctx context.Context, original, tone string) (string, error) {
	return g.generate(ctx, replyPrompt(original, tone))
}

func (g *Gemini) Analyze(ctx context.Context, text string) (models.Analysis, error) {
	raw, err := g.generate(ctx, analysisPrompt(text))
	if err != nil {
		return models.Analysis{}, err
	}
	return parseAnalysis(raw)
}

func (g *Gemini) Ping(ctx context.Context) error {
	_, err := g.generate(ctx, "Reply with the single word: ok")
	return err
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, m := range g.models {
		res := g.limiter.AllowAll(g.now(),
			ratelimit.Rule{Key: m.Name + ":rpm", Limit: m.RPM, Window: time.Minute},
			ratelimit.Rule{Key: m.Name + ":rpd", Limit: m.RPD, Window: 24 * time.Hour},
		)
		if !res.Allowed {
			g.logger.Debug("model over budget", zap.String("model", m.Name), zap.Time("reset_at", res.ResetAt))
			continue
		}
		if g.usage != nil {
			if err := g.usage.RecordAPICall(ctx, ServiceName, m.Name); err != nil {
				g.logger.Warn("record llm usage", zap.Error(err))
			}
		}

		text, err := g.call(ctx, m.Name, prompt)
		if err != nil {
			if retryableOnNextModel(err) {
				g.logger.Info("model unavailable, trying next", zap.String("model", m.Name), zap.Error(err))
				lastErr = err
				continue
			}
			return "", fmt.Errorf("LLM API Error: %w", err)
		}
		if text = cleanText(text); text == "" {
			lastErr = fmt.Errorf("%s returned no text", m.Name)
			continue
		}
		return text, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("LLM API Error: %w: %v", ErrBudgetExhausted, lastErr)
	}
	return "", fmt.Errorf("LLM API Error: %w", ErrBudgetExhausted)
}

// retryableOnNextModel matches quota and missing-model errors, which another
// model in the list may not share.
func retryableOnNextModel(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "404", "not found"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
