package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ollamaTextClient реализует TextClient с использованием ollama/api.
// Используется для локального развертывания без внешних API-ключей.
type ollamaTextClient struct {
	client  *api.Client
	model   string
	timeout time.Duration // Храним таймаут для контекста
	logger  *zap.Logger
}

var _ TextClient = (*ollamaTextClient)(nil)

// newOllamaTextClient создает новый клиент для взаимодействия с Ollama
func newOllamaTextClient(cfg Config, logger *zap.Logger) (*ollamaTextClient, error) {
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(cfg.BaseURL, "/v1")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/")

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}

	logger.Info("Ollama клиент создан",
		zap.String("baseURL", ollamaBaseURL),
		zap.String("model", cfg.TextModel),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &ollamaTextClient{
		client:  api.NewClient(parsedURL, httpClient),
		model:   cfg.TextModel,
		timeout: cfg.Timeout,
		logger:  logger.Named("OllamaTextClient"),
	}, nil
}

func (c *ollamaTextClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	messages := []api.Message{
		{Role: "system", Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}
	return c.chat(ctx, userID, messages, params)
}

func (c *ollamaTextClient) GenerateWithImage(ctx context.Context, userID string, systemPrompt string, userInput string, imageDataURL string, params GenerationParams) (string, UsageInfo, error) {
	imageData, err := decodeDataURL(imageDataURL)
	if err != nil {
		return "", UsageInfo{}, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	messages := []api.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userInput, Images: []api.ImageData{imageData}},
	}
	return c.chat(ctx, userID, messages, params)
}

func (c *ollamaTextClient) chat(ctx context.Context, userID string, messages []api.Message, params GenerationParams) (string, UsageInfo, error) {
	usageInfo := UsageInfo{EstimatedCostUSD: 0} // Ollama API не возвращает стоимость

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   func(b bool) *bool { return &b }(false), // Не стримим
		Options: map[string]interface{}{
			"temperature": params.Temperature,
			"top_p":       params.TopP,
			"num_predict": intVal(params.MaxTokens),
		},
	}

	// Контекст с таймаутом, специфичным для этого запроса
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()

	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r // Сохраняем последний (полный) ответ
		return nil
	})

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Ошибка от Ollama API", zap.Duration("duration", duration), zap.String("userID", userID), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error", "user_id": userID}).Inc()
		return "", usageInfo, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	if resp.Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error_empty_response", "user_id": userID}).Inc()
		return "", usageInfo, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "success", "user_id": userID}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "kind": "text", "user_id": userID}).Observe(duration.Seconds())

	usageInfo.PromptTokens = resp.PromptEvalCount
	usageInfo.CompletionTokens = resp.EvalCount
	usageInfo.TotalTokens = resp.PromptEvalCount + resp.EvalCount
	if usageInfo.PromptTokens > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": c.model, "user_id": userID}).Observe(float64(usageInfo.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": c.model, "user_id": userID}).Observe(float64(usageInfo.CompletionTokens))
	}

	return resp.Message.Content, usageInfo, nil
}

// decodeDataURL извлекает бинарный пейлоад из data:-URL.
func decodeDataURL(dataURL string) ([]byte, error) {
	_, payload, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, fmt.Errorf("некорректный data:-URL")
	}
	return base64.StdEncoding.DecodeString(payload)
}
