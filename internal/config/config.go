package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию приложения storybook-server.
type Config struct {
	// Настройки сервера
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" required:"true"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" required:"true"`
	DBName        string        `envconfig:"DB_NAME" required:"true"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Настройки Redis (blob-хранилище ассетов)
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`
	// Секретное поле БЕЗ envconfig тега
	RedisPassword string

	// Настройки RabbitMQ
	RabbitMQURL         string `envconfig:"RABBITMQ_URL" required:"true"`
	GenerationTaskQueue string `envconfig:"GENERATION_TASK_QUEUE" default:"storybook_generation_tasks"`

	// Настройки AI
	AIProvider    string        `envconfig:"AI_PROVIDER" default:"openai"`
	AIBaseURL     string        `envconfig:"AI_BASE_URL" default:""`
	AITextModel   string        `envconfig:"AI_TEXT_MODEL" default:"gpt-4o"`
	AIImageModel  string        `envconfig:"AI_IMAGE_MODEL" default:"dall-e-3"`
	AISpeechModel string        `envconfig:"AI_SPEECH_MODEL" default:"tts-1"`
	AISpeechVoice string        `envconfig:"AI_SPEECH_VOICE" default:"nova"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	// Секретное поле БЕЗ envconfig тега
	AIAPIKey string

	// Настройки видео-генерации (опционально; пустой URL отключает видео)
	VideoBaseURL      string        `envconfig:"VIDEO_BASE_URL" default:""`
	VideoModel        string        `envconfig:"VIDEO_MODEL" default:"veo-2.0-generate-001"`
	VideoPollInterval time.Duration `envconfig:"VIDEO_POLL_INTERVAL" default:"10s"`
	VideoTimeout      time.Duration `envconfig:"VIDEO_TIMEOUT" default:"10m"`

	// Настройки JWT
	// Секретное поле БЕЗ envconfig тега
	JWTSecret string

	// Настройки фоновых задач
	AssetGCInterval time.Duration `envconfig:"ASSET_GC_INTERVAL" default:"1h"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// readSecret читает секрет из Docker Secrets (/run/secrets) с fallback на
// переменную окружения для локальной разработки.
func readSecret(secretName, envKey string) (string, error) {
	filePath := fmt.Sprintf("/run/secrets/%s", secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err == nil {
		secret := strings.TrimSpace(string(secretBytes))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", filePath)
		}
		return secret, nil
	}

	if value := os.Getenv(envKey); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found: no %s and %s is not set", secretName, filePath, envKey)
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
// .env подхватывается, если существует (локальная разработка).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации storybook-server: %w", err)
	}

	var loadErr error
	cfg.DBPassword, loadErr = readSecret("db_password", "DB_PASSWORD")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.JWTSecret, loadErr = readSecret("jwt_secret", "JWT_SECRET")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.AIAPIKey, loadErr = readSecret("ai_api_key", "AI_API_KEY")
	if loadErr != nil {
		return nil, loadErr
	}

	// Redis может работать без пароля; отсутствие секрета — не ошибка.
	cfg.RedisPassword, _ = readSecret("redis_password", "REDIS_PASSWORD")

	return &cfg, nil
}
