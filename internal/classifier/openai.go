package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/metrics"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

const systemPrompt = `Ты модератор телеграм-чата украинских беженцев в Швейцарии.

По тексту одного сообщения определи, является ли оно мошенническим (скамом) или нет.

Скамом считаются, в частности:
- обещания лёгкого или очень высокого заработка без квалификации/языка;
- предложения работы без указания реального работодателя/компании и легального контракта;
- крипто- и инвестиционные схемы, торговля USDT и т.п. от неизвестных лиц;
- пирамиды, MLM, "сетевой бизнес";
- схемы, где зовут писать в личку или на внешний канал для "заработка", "инвестиций", "быстрых денег";
- фишинговые ссылки, сбор конфиденциальных данных.

Обычные вопросы, бытовое общение, новости, обсуждения и честные вакансии с понятным работодателем НЕ являются скамом.

Ответ верни строго в формате JSON БЕЗ лишнего текста:

{
  "label": "SCAM" или "OK",
  "category": "job_scam" | "crypto" | "investment" | "phishing" | "other" | "none",
  "confidence": число от 0 до 1,
  "reason": "краткое объяснение на русском"
}`

type verdictPayload struct {
	Label      string  `json:"label"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

var validCategories = map[string]bool{
	models.CategoryJobScam:    true,
	models.CategoryCrypto:     true,
	models.CategoryInvestment: true,
	models.CategoryPhishing:   true,
	models.CategoryOther:      true,
	models.CategoryNone:       true,
}

// Options configures the OpenAI-backed classifier. BaseURL is optional
// and exists for tests and alternative providers.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type OpenAIClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewOpenAIClassifier(opts Options, logger *zap.Logger) *OpenAIClassifier {
	var client *openai.Client
	if opts.BaseURL != "" {
		cfg := openai.DefaultConfig(opts.APIKey)
		cfg.BaseURL = opts.BaseURL
		client = openai.NewClientWithConfig(cfg)
	} else {
		client = openai.NewClient(opts.APIKey)
	}

	return &OpenAIClassifier{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (*models.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	metrics.ClassifierLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, c.mapError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.ClassifierErrors.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		c.logger.Error("Failed to parse classifier response",
			zap.Error(err),
			zap.String("response", content))
		metrics.ClassifierErrors.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := payload.validate(); err != nil {
		c.logger.Error("Classifier response failed validation",
			zap.Error(err),
			zap.String("response", content))
		metrics.ClassifierErrors.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		raw = []byte(content)
	}

	return &models.Verdict{
		Label:        models.Label(payload.Label),
		Category:     payload.Category,
		Confidence:   payload.Confidence,
		Reason:       payload.Reason,
		Raw:          raw,
		ModelVersion: resp.Model,
	}, nil
}

func (p verdictPayload) validate() error {
	if p.Label != string(models.LabelScam) && p.Label != string(models.LabelOK) {
		return fmt.Errorf("unknown label %q", p.Label)
	}
	if !validCategories[p.Category] {
		return fmt.Errorf("unknown category %q", p.Category)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", p.Confidence)
	}
	return nil
}

func (c *OpenAIClassifier) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		metrics.ClassifierErrors.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.ClassifierErrors.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	metrics.ClassifierErrors.WithLabelValues("other").Inc()
	return fmt.Errorf("classifier request failed: %w", err)
}
