package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config — настройки AI-провайдеров. Заполняется из конфигурации сервиса.
type Config struct {
	Provider    string // "openai" или "ollama"
	APIKey      string
	BaseURL     string // для OpenAI-совместимых API и Ollama
	TextModel   string
	ImageModel  string
	SpeechModel string
	SpeechVoice string
	Timeout     time.Duration
}

// NewTextClient создает клиент текстовой модели по настройкам провайдера.
func NewTextClient(cfg Config, logger *zap.Logger) (TextClient, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return newOpenAITextClient(cfg, logger), nil
	case "ollama":
		return newOllamaTextClient(cfg, logger)
	default:
		return nil, fmt.Errorf("неизвестный AI-провайдер: %s", cfg.Provider)
	}
}

func newOpenAIConfig(cfg Config) openaigo.ClientConfig {
	apiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}
	return apiConfig
}

// --- OpenAI Text Client ---

// openAITextClient реализует TextClient с использованием go-openai
type openAITextClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

var _ TextClient = (*openAITextClient)(nil)

func newOpenAITextClient(cfg Config, logger *zap.Logger) *openAITextClient {
	return &openAITextClient{
		client: openaigo.NewClientWithConfig(newOpenAIConfig(cfg)),
		model:  cfg.TextModel,
		logger: logger.Named("OpenAITextClient"),
	}
}

func (c *openAITextClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	// Добавляем ввод пользователя, если он есть
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: userInput,
		})
	}
	return c.complete(ctx, userID, messages, params)
}

func (c *openAITextClient) GenerateWithImage(ctx context.Context, userID string, systemPrompt string, userInput string, imageDataURL string, params GenerationParams) (string, UsageInfo, error) {
	parts := []openaigo.ChatMessagePart{
		{Type: openaigo.ChatMessagePartTypeImageURL, ImageURL: &openaigo.ChatMessageImageURL{URL: imageDataURL}},
	}
	if userInput != "" {
		parts = append(parts, openaigo.ChatMessagePart{Type: openaigo.ChatMessagePartTypeText, Text: userInput})
	}
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openaigo.ChatMessageRoleUser, MultiContent: parts},
	}
	return c.complete(ctx, userID, messages, params)
}

func (c *openAITextClient) complete(ctx context.Context, userID string, messages []openaigo.ChatCompletionMessage, params GenerationParams) (string, UsageInfo, error) {
	usageInfo := UsageInfo{}

	startTime := time.Now()
	c.logger.Debug("Отправка запроса к AI",
		zap.String("model", c.model),
		zap.Int("messages", len(messages)),
		zap.String("userID", userID),
	)

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openaigo.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: float32Val(params.Temperature), // Конвертируем *float64 в float32
			MaxTokens:   intVal(params.MaxTokens),
			TopP:        float32Val(params.TopP),
		},
	)

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Ошибка от AI API", zap.Duration("duration", duration), zap.String("userID", userID), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error", "user_id": userID}).Inc()
		return "", usageInfo, fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "error_empty_response", "user_id": userID}).Inc()
		return "", usageInfo, fmt.Errorf("%w: получен пустой ответ", ErrAIGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "text", "status": "success", "user_id": userID}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "kind": "text", "user_id": userID}).Observe(duration.Seconds())

	generatedText := resp.Choices[0].Message.Content

	if resp.Usage.TotalTokens > 0 {
		aiPromptTokens.With(prometheus.Labels{"model": c.model, "user_id": userID}).Observe(float64(resp.Usage.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": c.model, "user_id": userID}).Observe(float64(resp.Usage.CompletionTokens))

		usageInfo.PromptTokens = resp.Usage.PromptTokens
		usageInfo.CompletionTokens = resp.Usage.CompletionTokens
		usageInfo.TotalTokens = resp.Usage.TotalTokens
		usageInfo.EstimatedCostUSD = calculateCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if usageInfo.EstimatedCostUSD > 0 {
			aiEstimatedCostUSD.With(prometheus.Labels{"model": c.model, "user_id": userID}).Add(usageInfo.EstimatedCostUSD)
		}
	}

	c.logger.Debug("Ответ от AI API получен",
		zap.Duration("duration", duration),
		zap.Int("chars", len(generatedText)),
		zap.Int("totalTokens", usageInfo.TotalTokens),
		zap.String("userID", userID),
	)
	return generatedText, usageInfo, nil
}

// --- OpenAI Image Client ---

// openAIImageClient генерирует иллюстрации через Images API.
type openAIImageClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

var _ ImageClient = (*openAIImageClient)(nil)

// NewOpenAIImageClient создает клиент генерации иллюстраций.
func NewOpenAIImageClient(cfg Config, logger *zap.Logger) *openAIImageClient {
	model := cfg.ImageModel
	if model == "" {
		model = openaigo.CreateImageModelDallE3
	}
	return &openAIImageClient{
		client: openaigo.NewClientWithConfig(newOpenAIConfig(cfg)),
		model:  model,
		logger: logger.Named("OpenAIImageClient"),
	}
}

func (c *openAIImageClient) GenerateImage(ctx context.Context, userID string, prompt string) (string, error) {
	startTime := time.Now()

	resp, err := c.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		N:              1,
		Size:           openaigo.CreateImageSize1024x1024,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Ошибка генерации изображения", zap.Duration("duration", duration), zap.String("userID", userID), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "image", "status": "error", "user_id": userID}).Inc()
		return "", fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "image", "status": "error_empty_response", "user_id": userID}).Inc()
		return "", fmt.Errorf("%w: модель не вернула изображение", ErrAIGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.model, "kind": "image", "status": "success", "user_id": userID}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.model, "kind": "image", "user_id": userID}).Observe(duration.Seconds())

	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}

// --- OpenAI Speech Client ---

// openAISpeechClient озвучивает текст страницы через Speech API.
type openAISpeechClient struct {
	client *openaigo.Client
	model  openaigo.SpeechModel
	voice  openaigo.SpeechVoice
	logger *zap.Logger
}

var _ SpeechClient = (*openAISpeechClient)(nil)

// NewOpenAISpeechClient создает клиент синтеза речи.
func NewOpenAISpeechClient(cfg Config, logger *zap.Logger) *openAISpeechClient {
	model := openaigo.SpeechModel(cfg.SpeechModel)
	if model == "" {
		model = openaigo.TTSModel1
	}
	voice := openaigo.SpeechVoice(cfg.SpeechVoice)
	if voice == "" {
		voice = openaigo.VoiceNova
	}
	return &openAISpeechClient{
		client: openaigo.NewClientWithConfig(newOpenAIConfig(cfg)),
		model:  model,
		voice:  voice,
		logger: logger.Named("OpenAISpeechClient"),
	}
}

func (c *openAISpeechClient) GenerateSpeech(ctx context.Context, userID string, text string) (string, error) {
	startTime := time.Now()

	resp, err := c.client.CreateSpeech(ctx, openaigo.CreateSpeechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openaigo.SpeechResponseFormatMp3,
	})

	duration := time.Since(startTime)
	model := string(c.model)

	if err != nil {
		c.logger.Error("Ошибка синтеза речи", zap.Duration("duration", duration), zap.String("userID", userID), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": model, "kind": "speech", "status": "error", "user_id": userID}).Inc()
		return "", fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": model, "kind": "speech", "status": "error", "user_id": userID}).Inc()
		return "", fmt.Errorf("%w: ошибка чтения аудио: %v", ErrAIGenerationFailed, err)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": model, "kind": "speech", "status": "success", "user_id": userID}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": model, "kind": "speech", "user_id": userID}).Observe(duration.Seconds())

	return "data:audio/mp3;base64," + base64.StdEncoding.EncodeToString(audio), nil
}

// --- Вспомогательная функция для конвертации *float64 в float32 ---
func float32Val(f64 *float64) float32 {
	if f64 == nil {
		// Значение по умолчанию для OpenAI API, если не передано
		return 1.0
	}
	return float32(*f64)
}

// --- Вспомогательная функция для конвертации *int в int ---
func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
