package ai

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Константы цен для оценки стоимости запросов
const (
	pricePerMillionInputTokensUSD  = 0.1 // Цена за 1М входных токенов в USD
	pricePerMillionOutputTokensUSD = 0.4 // Цена за 1М выходных токенов в USD
)

// GenerationParams — параметры сэмплирования. Используем указатели, чтобы
// отличить 0/0.0 от отсутствия.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// ErrAIGenerationFailed - ошибка при генерации контента AI
var ErrAIGenerationFailed = errors.New("ошибка генерации контента AI")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "kind", "status", "user_id"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "kind", "user_id"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20), // 250, 500, ..., 5000
		},
		[]string{"model", "user_id"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20), // 100, 200, ..., 2000
		},
		[]string{"model", "user_id"},
	)
	aiEstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_ai_estimated_cost_usd_total",
			Help: "Estimated total cost of AI requests in USD.",
		},
		[]string{"model", "user_id"},
	)
)

// UsageInfo содержит информацию об использовании токенов и стоимости
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64 // Оценочная стоимость
}

// calculateCost рассчитывает оценочную стоимость запроса на основе токенов.
func calculateCost(promptTokens, completionTokens int) float64 {
	inputCost := float64(promptTokens) * pricePerMillionInputTokensUSD / 1_000_000.0
	outputCost := float64(completionTokens) * pricePerMillionOutputTokensUSD / 1_000_000.0
	return inputCost + outputCost
}

// TextClient — низкоуровневый клиент текстовой модели.
type TextClient interface {
	// GenerateText генерирует текст на основе системного промта, ввода
	// пользователя и параметров.
	GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
	// GenerateWithImage — то же, но с картинкой во вводе (рисунок ребенка
	// или кадр из видео). imageDataURL — data:-URL с base64-пейлоадом.
	GenerateWithImage(ctx context.Context, userID string, systemPrompt string, userInput string, imageDataURL string, params GenerationParams) (string, UsageInfo, error)
}

// ImageClient — клиент модели генерации иллюстраций.
// Возвращает готовый data:-URL с base64-пейлоадом.
type ImageClient interface {
	GenerateImage(ctx context.Context, userID string, prompt string) (string, error)
}

// SpeechClient — клиент синтеза речи для озвучки страниц.
type SpeechClient interface {
	GenerateSpeech(ctx context.Context, userID string, text string) (string, error)
}

// VideoClient — клиент генерации анимированных сцен. Операция долгая,
// реализация сама поллит статус до готовности.
type VideoClient interface {
	GenerateVideo(ctx context.Context, userID string, prompt string, referenceImageDataURL string) (string, error)
}
