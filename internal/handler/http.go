package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/messaging"
	"storybook-server/internal/middleware"
	"storybook-server/internal/models"
	"storybook-server/pkg/taskmanager"
)

// SessionDispatcher — вход в состояние сессий. Реализуется session.Manager.
type SessionDispatcher interface {
	GetState(ctx context.Context, userID string) models.SessionState
	Dispatch(ctx context.Context, userID string, action models.Action) models.SessionState
}

// SyncGenerator — синхронные операции генерации, выполняемые прямо в
// запросе: наррация и предпросмотр стиля достаточно быстрые, чтобы не
// гонять их через очередь.
type SyncGenerator interface {
	GenerateNarration(ctx context.Context, userID string, text string) (string, error)
	GenerateStylePreview(ctx context.Context, userID string, idea models.InitialIdea, style string) (string, error)
}

// TaskCanceller отменяет запущенную задачу генерации по ее id.
type TaskCanceller interface {
	CancelTask(taskID uuid.UUID) error
}

// APIHandler обрабатывает HTTP запросы мастера, генерации и библиотеки.
type APIHandler struct {
	sessions  SessionDispatcher
	publisher messaging.TaskPublisher
	canceller TaskCanceller
	generator SyncGenerator
	validator middleware.TokenValidator
	logger    *zap.Logger
}

// NewAPIHandler создает новый APIHandler.
func NewAPIHandler(
	sessions SessionDispatcher,
	publisher messaging.TaskPublisher,
	canceller TaskCanceller,
	generator SyncGenerator,
	validator middleware.TokenValidator,
	logger *zap.Logger,
) *APIHandler {
	return &APIHandler{
		sessions:  sessions,
		publisher: publisher,
		canceller: canceller,
		generator: generator,
		validator: validator,
		logger:    logger.Named("APIHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API. Все маршруты требуют
// аутентификации.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api", middleware.Auth(h.validator, h.logger))
	{
		api.GET("/session", h.getSession)
		api.POST("/session/actions", h.dispatchAction)

		story := api.Group("/story")
		{
			story.POST("/start", h.startStory)
			story.POST("/full", h.startFullBook)
			story.POST("/next", h.nextPage)
			story.POST("/end", h.endStory)
			story.POST("/pages/:pageId/revise", h.revisePage)
			story.POST("/pages/:pageId/video", h.generatePageVideo)
			story.POST("/cover/revise", h.reviseCover)
			story.POST("/cancel", h.cancelGeneration)
			story.POST("/narration", h.generateNarration)
			story.POST("/style-preview", h.generateStylePreview)
		}

		api.GET("/library", h.getLibrary)
		api.POST("/library/:bookId/open", h.openBook)
	}
}

func (h *APIHandler) userID(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "Unauthorized"})
	}
	return userID, ok
}

// getSession возвращает текущее состояние сессии мастера.
func (h *APIHandler) getSession(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessions.GetState(c.Request.Context(), userID))
}

// dispatchAction применяет действие мастера и возвращает новое состояние.
func (h *APIHandler) dispatchAction(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	action, err := decodeAction(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
		return
	}

	state := h.sessions.Dispatch(c.Request.Context(), userID, action)
	c.JSON(http.StatusOK, state)
}

// enqueueGeneration — общий путь всех триггеров генерации: сессия
// переводится в загрузку с новым id генерации, задача уходит в очередь.
// Если публикация не удалась, сессия тут же получает GenerationFailed.
func (h *APIHandler) enqueueGeneration(c *gin.Context, userID string, message string, build func(genID uuid.UUID) messaging.GenerationTaskPayload) {
	ctx := c.Request.Context()

	state := h.sessions.GetState(ctx, userID)
	if state.IsLoading {
		c.JSON(http.StatusConflict, APIError{Message: "generation is already in progress"})
		return
	}

	genID := uuid.New()
	newState := h.sessions.Dispatch(ctx, userID, models.StartGeneration{
		GenerationID: genID,
		Message:      message,
	})

	payload := build(genID)
	payload.TaskID = genID.String()
	payload.UserID = userID

	if err := h.publisher.PublishGenerationTask(ctx, payload); err != nil {
		h.logger.Error("Не удалось опубликовать задачу генерации",
			zap.String("userID", userID),
			zap.String("taskType", string(payload.TaskType)),
			zap.Error(err),
		)
		h.sessions.Dispatch(ctx, userID, models.GenerationFailed{
			GenerationID: genID,
			Message:      "The storyteller is unavailable right now. Please try again.",
		})
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to enqueue generation"})
		return
	}

	c.JSON(http.StatusAccepted, generationAccepted{
		GenerationID: genID.String(),
		State:        newState,
	})
}

// startStory запускает интерактивную историю: метаданные, обложка,
// первая страница. Возраст, стиль и идея берутся из состояния сессии.
func (h *APIHandler) startStory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req startStoryRequest
	_ = c.ShouldBindJSON(&req) // Пустое тело допустимо

	state := h.sessions.GetState(c.Request.Context(), userID)
	idea := state.InitialIdea
	if req.Capture != nil {
		idea.Capture = req.Capture
	}

	h.enqueueGeneration(c, userID, "Dreaming up your story...", func(genID uuid.UUID) messaging.GenerationTaskPayload {
		return messaging.GenerationTaskPayload{
			TaskType: messaging.TaskTypeStoryStart,
			Age:      state.Age,
			Style:    state.Style,
			Idea:     &idea,
		}
	})
}

// startFullBook запускает генерацию книги целиком (путь "full").
func (h *APIHandler) startFullBook(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	state := h.sessions.GetState(c.Request.Context(), userID)
	idea := state.InitialIdea

	h.enqueueGeneration(c, userID, "Writing the whole book...", func(genID uuid.UUID) messaging.GenerationTaskPayload {
		return messaging.GenerationTaskPayload{
			TaskType: messaging.TaskTypeFullBook,
			Age:      state.Age,
			Style:    state.Style,
			Idea:     &idea,
		}
	})
}

// nextPage запускает генерацию следующей страницы истории.
func (h *APIHandler) nextPage(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req nextPageRequest
	_ = c.ShouldBindJSON(&req) // Пустое тело допустимо

	state := h.sessions.GetState(c.Request.Context(), userID)
	if state.Book == nil {
		c.JSON(http.StatusConflict, APIError{Message: "no book in progress"})
		return
	}

	idea := models.InitialIdea{}
	if req.Idea != nil {
		idea = *req.Idea
	}
	if req.Capture != nil {
		idea.Capture = req.Capture
	}

	h.enqueueGeneration(c, userID, "Turning the page...", func(genID uuid.UUID) messaging.GenerationTaskPayload {
		return messaging.GenerationTaskPayload{
			TaskType: messaging.TaskTypeNextPage,
			Age:      state.Book.Age,
			Style:    state.Book.Style,
			Idea:     &idea,
		}
	})
}

// endStory запускает генерацию финальной страницы.
func (h *APIHandler) endStory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	state := h.sessions.GetState(c.Request.Context(), userID)
	if state.Book == nil {
		c.JSON(http.StatusConflict, APIError{Message: "no book in progress"})
		return
	}

	h.enqueueGeneration(c, userID, "Writing the ending...", func(genID uuid.UUID) messaging.GenerationTaskPayload {
		return messaging.GenerationTaskPayload{
			TaskType: messaging.TaskTypeEnding,
			Age:      state.Book.Age,
			Style:    state.Book.Style,
		}
	})
}

// revisePage запускает создание новой ревизии страницы.
func (h *APIHandler) revisePage(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	pageID := c.Param("pageId")

	var req revisePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}
	if req.Instruction == "" && req.Capture == nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "instruction or capture is required"})
		return
	}

	state := h.sessions.GetState(c.Request.Context(), userID)
	if state.Book == nil {
		c.JSON(http.StatusConflict, APIError{Message: "no book in progress"})
		return
	}

	h.enqueueGeneration(c, userID, "Reimagining the page...", func(genID uuid.UUID) messaging.GenerationTaskPayload {
		return messaging.GenerationTaskPayload{
			TaskType:     messaging.TaskTypePageRevision,
			PageID:       pageID,
			Instruction:  req.Instruction,
			RevisionType: req.RevisionType,
			Capture:      req.Capture,
		}
	})
}

// reviseCover запускает перерисовку обложки.
func (h *APIHandler) reviseCover(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req reviseCoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	state := h.sessions.GetState(c.Request.Context(), userID)
	if state.Book == nil {
		c.JSON(http.StatusConflict, APIError{Message: "no book in progress"})
		return
	}

	h.enqueueGeneration(c, userID, "Painting a new cover...", func(genID uuid.UUID) messaging.GenerationTaskPayload {
		return messaging.GenerationTaskPayload{
			TaskType:    messaging.TaskTypeCoverRevision,
			Instruction: req.Instruction,
		}
	})
}

// generatePageVideo запускает генерацию анимированной сцены для страницы.
func (h *APIHandler) generatePageVideo(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	pageID := c.Param("pageId")

	state := h.sessions.GetState(c.Request.Context(), userID)
	if state.Book == nil {
		c.JSON(http.StatusConflict, APIError{Message: "no book in progress"})
		return
	}

	h.enqueueGeneration(c, userID, "Bringing the page to life...", func(genID uuid.UUID) messaging.GenerationTaskPayload {
		return messaging.GenerationTaskPayload{
			TaskType: messaging.TaskTypePageVideo,
			PageID:   pageID,
		}
	})
}

// cancelGeneration отменяет текущую генерацию сессии. Задача в воркере
// получает отмену контекста, а поздний результат редьюсер отбросит по id.
func (h *APIHandler) cancelGeneration(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	state := h.sessions.GetState(c.Request.Context(), userID)
	if state.ActiveGenerationID == uuid.Nil {
		c.JSON(http.StatusConflict, APIError{Message: "no generation in progress"})
		return
	}

	if err := h.canceller.CancelTask(state.ActiveGenerationID); err != nil {
		// Задача могла еще не дойти до воркера: сессию все равно разблокируем.
		h.logger.Warn("Не удалось отменить задачу в трекере",
			zap.String("generationID", state.ActiveGenerationID.String()),
			zap.Error(err),
		)
	}

	newState := h.sessions.Dispatch(c.Request.Context(), userID, models.GenerationFailed{
		GenerationID: state.ActiveGenerationID,
		Message:      "Generation was cancelled.",
	})
	c.JSON(http.StatusOK, newState)
}

// generateNarration синхронно генерирует озвучку текста страницы.
func (h *APIHandler) generateNarration(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req narrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	audioURL, err := h.generator.GenerateNarration(c.Request.Context(), userID, req.Text)
	if err != nil {
		h.logger.Error("Ошибка генерации наррации", zap.String("userID", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "narration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audio_url": audioURL})
}

// generateStylePreview синхронно генерирует превью стиля иллюстраций.
func (h *APIHandler) generateStylePreview(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req stylePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	state := h.sessions.GetState(c.Request.Context(), userID)
	imageURL, err := h.generator.GenerateStylePreview(c.Request.Context(), userID, state.InitialIdea, req.Style)
	if err != nil {
		h.logger.Error("Ошибка генерации превью стиля", zap.String("userID", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "style preview failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_url": imageURL})
}

// getLibrary возвращает библиотеку книг пользователя.
func (h *APIHandler) getLibrary(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	state := h.sessions.GetState(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{
		"library": state.Library,
		"loaded":  state.LibraryLoaded,
	})
}

// openBook загружает книгу из библиотеки в активную сессию.
func (h *APIHandler) openBook(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	state := h.sessions.Dispatch(c.Request.Context(), userID, models.LoadBook{BookID: c.Param("bookId")})
	if state.Error != "" && state.Book == nil {
		c.JSON(http.StatusNotFound, APIError{Message: state.Error})
		return
	}
	c.JSON(http.StatusOK, state)
}

// Compile-time check
var _ TaskCanceller = (taskmanager.ITaskTracker)(nil)
