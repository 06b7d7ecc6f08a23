package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// VideoConfig — настройки сервера генерации видео.
type VideoConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	PollInterval time.Duration
	Timeout      time.Duration // общий дедлайн на операцию целиком
}

// httpVideoClient ходит в сервер генерации видео по HTTP: создает
// операцию и поллит ее статус до готовности. Сервер отдает либо ссылку
// на готовый ролик, либо ошибку (чаще всего — срабатывание фильтра
// безопасности).
type httpVideoClient struct {
	cfg    VideoConfig
	client *http.Client
	logger *zap.Logger
}

var _ VideoClient = (*httpVideoClient)(nil)

// NewHTTPVideoClient создает клиент сервера генерации видео.
func NewHTTPVideoClient(cfg VideoConfig, logger *zap.Logger) *httpVideoClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &httpVideoClient{
		cfg: cfg,
		// Таймаут на отдельный HTTP-запрос, не на операцию.
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("VideoClient"),
	}
}

// videoAPIRequest - структура запроса к серверу генерации видео.
type videoAPIRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ReferenceImage string `json:"reference_image,omitempty"`
	NumberOfVideos int    `json:"number_of_videos"`
}

type videoAPIOperation struct {
	ID       string `json:"id"`
	Done     bool   `json:"done"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (c *httpVideoClient) GenerateVideo(ctx context.Context, userID string, prompt string, referenceImageDataURL string) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	op, err := c.createOperation(ctx, prompt, referenceImageDataURL)
	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "kind": "video", "status": "error", "user_id": userID}).Inc()
		return "", fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "kind": "video", "status": "timeout", "user_id": userID}).Inc()
			return "", fmt.Errorf("%w: операция прервана: %v", ErrAIGenerationFailed, ctx.Err())
		case <-ticker.C:
		}
		op, err = c.getOperation(ctx, op.ID)
		if err != nil {
			aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "kind": "video", "status": "error", "user_id": userID}).Inc()
			return "", fmt.Errorf("%w: %v", ErrAIGenerationFailed, err)
		}
	}

	duration := time.Since(startTime)

	if op.Error != "" {
		c.logger.Error("Video generation operation failed",
			zap.String("operationID", op.ID),
			zap.String("error", op.Error),
			zap.String("userID", userID),
		)
		aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "kind": "video", "status": "error", "user_id": userID}).Inc()
		// Срабатывание фильтра безопасности переводим в понятное сообщение.
		lower := strings.ToLower(op.Error)
		if strings.Contains(lower, "sensitive") || strings.Contains(lower, "safety") || strings.Contains(lower, "violate") {
			return "", fmt.Errorf("%w: the AI's safety filter blocked the video creation; try revising this page's text to be simpler and more positive", ErrAIGenerationFailed)
		}
		return "", fmt.Errorf("%w: %s", ErrAIGenerationFailed, op.Error)
	}
	if op.VideoURL == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "kind": "video", "status": "error_empty_response", "user_id": userID}).Inc()
		return "", fmt.Errorf("%w: генерация завершилась без ссылки на видео", ErrAIGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": c.cfg.Model, "kind": "video", "status": "success", "user_id": userID}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": c.cfg.Model, "kind": "video", "user_id": userID}).Observe(duration.Seconds())

	c.logger.Info("Video generated",
		zap.String("operationID", op.ID),
		zap.Duration("duration", duration),
		zap.String("userID", userID),
	)
	return op.VideoURL, nil
}

func (c *httpVideoClient) createOperation(ctx context.Context, prompt, referenceImage string) (*videoAPIOperation, error) {
	body, err := json.Marshal(videoAPIRequest{
		Model:          c.cfg.Model,
		Prompt:         prompt,
		ReferenceImage: referenceImage,
		NumberOfVideos: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/videos", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	return c.doOperationRequest(req)
}

func (c *httpVideoClient) getOperation(ctx context.Context, operationID string) (*videoAPIOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/videos/"+operationID, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return c.doOperationRequest(req)
}

func (c *httpVideoClient) doOperationRequest(req *http.Request) (*videoAPIOperation, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к видео-серверу: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("видео-сервер вернул статус %d: %s", resp.StatusCode, string(respBody))
	}

	var op videoAPIOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("ошибка декодирования ответа видео-сервера: %w", err)
	}
	return &op, nil
}
