package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"storybook-server/internal/ai"
	"storybook-server/internal/auth"
	"storybook-server/internal/config"
	"storybook-server/internal/database"
	"storybook-server/internal/handler"
	"storybook-server/internal/jobs"
	"storybook-server/internal/messaging"
	"storybook-server/internal/middleware"
	"storybook-server/internal/repository"
	"storybook-server/internal/session"
	"storybook-server/internal/storage"
	"storybook-server/internal/worker"
	"storybook-server/internal/ws"
	"storybook-server/migrations"
	"storybook-server/pkg/logger"
	"storybook-server/pkg/migration"
	"storybook-server/pkg/taskmanager"
)

func main() {
	log.Println("Запуск Storybook Server...")

	// Конфиг загружаем ДО инициализации логгера: уровень логирования берется оттуда.
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL + миграции ---
	dbPool, err := database.NewPostgresPool(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, dbPool)
	if err := migrator.Up(ctx); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// --- Redis (blob-хранилище ассетов) ---
	redisClient, err := database.NewRedisClient(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// --- RabbitMQ ---
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Успешное подключение к RabbitMQ")

	// --- Репозитории и хранилища ---
	userRepo := repository.NewPgUserRepository(dbPool, zapLogger)
	tokenRepo := repository.NewPgRefreshTokenRepository(dbPool, zapLogger)
	indexStore := repository.NewPgLibraryIndexStore(dbPool, zapLogger)

	assetStore := storage.NewRedisAssetStore(redisClient, zapLogger)
	sanitizer := storage.NewSanitizer(assetStore, zapLogger)
	libraryStore := storage.NewLibraryStore(indexStore, sanitizer, zapLogger)

	// --- Сессии и WebSocket ---
	sessionManager := session.NewManager(session.NewReducer(), libraryStore, zapLogger)
	connManager := ws.NewConnectionManager(zapLogger)
	sessionManager.SetNotifier(connManager)

	authService := auth.NewService(userRepo, tokenRepo, cfg.JWTSecret, zapLogger)
	wsHandler := ws.NewHandler(connManager, authService, zapLogger)

	tracker := taskmanager.NewTracker()
	tracker.SetWebSocketNotifier(connManager)

	// --- AI-клиенты ---
	aiCfg := ai.Config{
		Provider:    cfg.AIProvider,
		APIKey:      cfg.AIAPIKey,
		BaseURL:     cfg.AIBaseURL,
		TextModel:   cfg.AITextModel,
		ImageModel:  cfg.AIImageModel,
		SpeechModel: cfg.AISpeechModel,
		SpeechVoice: cfg.AISpeechVoice,
		Timeout:     cfg.AITimeout,
	}
	textClient, err := ai.NewTextClient(aiCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать клиент текстовой модели", zap.Error(err))
	}
	imageClient := ai.NewOpenAIImageClient(aiCfg, zapLogger)
	speechClient := ai.NewOpenAISpeechClient(aiCfg, zapLogger)

	// Видеогенерация опциональна: без базового URL операция будет возвращать ошибку.
	var videoClient ai.VideoClient
	if cfg.VideoBaseURL != "" {
		videoClient = ai.NewHTTPVideoClient(ai.VideoConfig{
			BaseURL:      cfg.VideoBaseURL,
			APIKey:       cfg.AIAPIKey,
			Model:        cfg.VideoModel,
			PollInterval: cfg.VideoPollInterval,
			Timeout:      cfg.VideoTimeout,
		}, zapLogger)
	} else {
		zapLogger.Info("VIDEO_BASE_URL не задан, генерация видео отключена")
	}

	generator := ai.NewGenerator(textClient, imageClient, speechClient, videoClient, zapLogger)

	// --- Очередь задач генерации ---
	taskPublisher, err := messaging.NewRabbitMQTaskPublisher(rabbitConn, cfg.GenerationTaskQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать TaskPublisher", zap.Error(err))
	}

	taskHandler := worker.NewTaskHandler(generator, sessionManager, tracker, zapLogger)
	taskConsumer := worker.NewTaskConsumer(rabbitConn, taskHandler, zapLogger, cfg.GenerationTaskQueue)
	go func() {
		zapLogger.Info("Запуск консьюмера задач генерации...")
		if err := taskConsumer.Start(ctx); err != nil {
			zapLogger.Error("Консьюмер задач завершился с ошибкой", zap.Error(err))
		}
	}()

	// --- Фоновая сборка мусора ассетов ---
	assetGC := jobs.NewAssetGC(indexStore, assetStore, zapLogger)
	gcScheduler, err := assetGC.Schedule(cfg.AssetGCInterval)
	if err != nil {
		zapLogger.Fatal("Не удалось запустить планировщик GC ассетов", zap.Error(err))
	}

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLogging(zapLogger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	authHandler := handler.NewAuthHandler(authService, zapLogger)
	authHandler.RegisterRoutes(router)

	apiHandler := handler.NewAPIHandler(sessionManager, taskPublisher, tracker, generator, authService, zapLogger)
	apiHandler.RegisterRoutes(router)

	router.GET("/ws", wsHandler.ServeWS)

	// Prometheus подключаем после регистрации роутов.
	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	cancel()
	taskConsumer.Stop()
	if gcScheduler != nil {
		gcScheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := tracker.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("Трекер задач остановлен с ошибкой", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}

	zapLogger.Info("Storybook Server успешно остановлен")
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
