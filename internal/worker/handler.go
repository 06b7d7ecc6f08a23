package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/ai"
	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
	"storybook-server/pkg/taskmanager"
)

// Сообщение для пользователя, когда генерация падает по внутренней причине.
const genericFailureMessage = "Something went wrong while creating your story. Please try again."

// Dispatcher — вход в состояние сессий. Реализуется session.Manager.
type Dispatcher interface {
	GetState(ctx context.Context, userID string) models.SessionState
	Dispatch(ctx context.Context, userID string, action models.Action) models.SessionState
}

// ContentGenerator — генератор контента книги. Реализуется ai.Generator.
type ContentGenerator interface {
	GenerateStoryStart(ctx context.Context, userID string, idea models.InitialIdea, age int, style string, progress func(string)) (*ai.StoryStart, error)
	GenerateFullBook(ctx context.Context, userID string, idea models.InitialIdea, age int, style string, progress func(string)) (*models.GeneratedBook, error)
	GenerateNextPage(ctx context.Context, userID string, book *models.Book, idea models.InitialIdea, age int, style string) (*models.Page, error)
	GenerateEnding(ctx context.Context, userID string, book *models.Book, age int, style string) (*models.Page, error)
	RevisePage(ctx context.Context, userID string, book *models.Book, pageID string, instruction string, capture *models.CaptureData, revisionType models.RevisionType) (*models.Revision, error)
	ReviseCover(ctx context.Context, userID string, book *models.Book, instruction string) (string, error)
	GeneratePageVideo(ctx context.Context, userID string, book *models.Book, pageID string) (string, error)
}

// TaskHandler обрабатывает задачи генерации: запускает генератор под
// контекстом трекера (для отмены по id генерации) и доставляет результат
// в сессию действием. Устаревшие результаты редьюсер отбросит сам по
// несовпадению id генерации.
type TaskHandler struct {
	generator ContentGenerator
	sessions  Dispatcher
	tracker   taskmanager.ITaskTracker
	logger    *zap.Logger
}

// NewTaskHandler создает новый экземпляр обработчика задач
func NewTaskHandler(generator ContentGenerator, sessions Dispatcher, tracker taskmanager.ITaskTracker, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		generator: generator,
		sessions:  sessions,
		tracker:   tracker,
		logger:    logger.Named("TaskHandler"),
	}
}

// Handle обрабатывает одну задачу генерации. Ошибка возвращается только
// при невалидном сообщении: доменные сбои доставляются в сессию как
// GenerationFailed и для брокера считаются обработанными.
func (h *TaskHandler) Handle(ctx context.Context, payload messaging.GenerationTaskPayload) error {
	metricsTasksReceived.Inc()
	taskStartTime := time.Now()
	log := h.logger.With(
		zap.String("taskID", payload.TaskID),
		zap.String("userID", payload.UserID),
		zap.String("taskType", string(payload.TaskType)),
	)
	log.Info("Обработка задачи генерации")

	genID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		metricsTaskFailed("invalid_task_id")
		return errors.New("некорректный TaskID в задаче генерации: " + payload.TaskID)
	}
	if !messaging.IsValidTaskType(payload.TaskType) {
		metricsTaskFailed("invalid_task_type")
		return errors.New("неизвестный тип задачи: " + string(payload.TaskType))
	}

	// Регистрируем задачу под id генерации: CancelTask по этому же id
	// оборвет контекст генерации.
	taskCtx, err := h.tracker.StartTask(ctx, genID, payload.UserID, string(payload.TaskType))
	if err != nil {
		log.Warn("Не удалось зарегистрировать задачу", zap.Error(err))
		metricsTaskFailed("tracker_rejected")
		h.sessions.Dispatch(ctx, payload.UserID, models.GenerationFailed{
			GenerationID: genID,
			Message:      "The storyteller is very busy right now. Please try again in a moment.",
		})
		return nil
	}

	action, genErr := h.generate(taskCtx, genID, payload)

	duration := time.Since(taskStartTime)
	metricsTaskDuration.Observe(duration.Seconds())

	if genErr != nil {
		// Отмена — не сбой: пользователь сам прервал генерацию.
		if errors.Is(genErr, context.Canceled) || taskCtx.Err() != nil {
			log.Info("Задача генерации отменена", zap.Duration("duration", duration))
			metricsTaskFailed("cancelled")
			h.sessions.Dispatch(ctx, payload.UserID, models.GenerationFailed{
				GenerationID: genID,
				Message:      "Generation was cancelled.",
			})
			return nil
		}

		log.Error("Задача генерации завершилась с ошибкой", zap.Duration("duration", duration), zap.Error(genErr))
		metricsTaskFailed("generation_error")
		h.tracker.FailTask(genID, genErr.Error())
		h.sessions.Dispatch(ctx, payload.UserID, models.GenerationFailed{
			GenerationID: genID,
			Message:      failureMessage(genErr),
		})
		return nil
	}

	h.tracker.CompleteTask(genID, "done")
	h.sessions.Dispatch(ctx, payload.UserID, action)
	metricsTasksCompleted.Inc()
	log.Info("Задача генерации выполнена", zap.Duration("duration", duration))
	return nil
}

// generate выполняет генерацию и строит действие-результат.
func (h *TaskHandler) generate(ctx context.Context, genID uuid.UUID, payload messaging.GenerationTaskPayload) (models.Action, error) {
	userID := payload.UserID
	progress := h.progressFunc(ctx, genID, userID)

	idea := models.InitialIdea{}
	if payload.Idea != nil {
		idea = *payload.Idea
	}

	switch payload.TaskType {
	case messaging.TaskTypeStoryStart:
		start, err := h.generator.GenerateStoryStart(ctx, userID, idea, payload.Age, payload.Style, progress)
		if err != nil {
			return nil, err
		}
		return models.GenerationSucceeded{
			GenerationID:  genID,
			Title:         start.Title,
			Subtitle:      start.Subtitle,
			Characters:    start.Characters,
			CoverImageURL: start.CoverImageURL,
			FirstPage:     start.FirstPage,
		}, nil

	case messaging.TaskTypeFullBook:
		book, err := h.generator.GenerateFullBook(ctx, userID, idea, payload.Age, payload.Style, progress)
		if err != nil {
			return nil, err
		}
		return models.FullBookGenerated{GenerationID: genID, Book: *book}, nil

	case messaging.TaskTypeNextPage:
		book, err := h.sessionBook(ctx, userID)
		if err != nil {
			return nil, err
		}
		page, err := h.generator.GenerateNextPage(ctx, userID, book, idea, book.Age, book.Style)
		if err != nil {
			return nil, err
		}
		return models.PageAdded{GenerationID: genID, Page: *page}, nil

	case messaging.TaskTypeEnding:
		book, err := h.sessionBook(ctx, userID)
		if err != nil {
			return nil, err
		}
		page, err := h.generator.GenerateEnding(ctx, userID, book, book.Age, book.Style)
		if err != nil {
			return nil, err
		}
		return models.StoryEnded{GenerationID: genID, Page: *page}, nil

	case messaging.TaskTypePageRevision:
		book, err := h.sessionBook(ctx, userID)
		if err != nil {
			return nil, err
		}
		revision, err := h.generator.RevisePage(ctx, userID, book, payload.PageID, payload.Instruction, payload.Capture, payload.RevisionType)
		if err != nil {
			return nil, err
		}
		return models.RevisionAdded{GenerationID: genID, PageID: payload.PageID, Revision: *revision}, nil

	case messaging.TaskTypeCoverRevision:
		book, err := h.sessionBook(ctx, userID)
		if err != nil {
			return nil, err
		}
		coverURL, err := h.generator.ReviseCover(ctx, userID, book, payload.Instruction)
		if err != nil {
			return nil, err
		}
		return models.CoverRevised{GenerationID: genID, CoverImageURL: coverURL}, nil

	case messaging.TaskTypePageVideo:
		book, err := h.sessionBook(ctx, userID)
		if err != nil {
			return nil, err
		}
		videoURL, err := h.generator.GeneratePageVideo(ctx, userID, book, payload.PageID)
		if err != nil {
			return nil, err
		}
		return models.PageVideoGenerated{GenerationID: genID, PageID: payload.PageID, VideoURL: videoURL}, nil
	}

	return nil, errors.New("неизвестный тип задачи: " + string(payload.TaskType))
}

// sessionBook достает текущую книгу из сессии пользователя.
func (h *TaskHandler) sessionBook(ctx context.Context, userID string) (*models.Book, error) {
	state := h.sessions.GetState(ctx, userID)
	if state.Book == nil {
		return nil, models.ErrBookNotFound
	}
	return state.Book, nil
}

// progressFunc обновляет сообщение загрузки в сессии и прогресс в трекере.
// В сессию уходит GenerationProgress, а не StartGeneration: прогресс уже
// отмененной задачи не должен перевзводить активный id генерации.
func (h *TaskHandler) progressFunc(ctx context.Context, genID uuid.UUID, userID string) func(string) {
	step := 0
	return func(message string) {
		step++
		progress := step * 30
		if progress > 90 {
			progress = 90
		}
		h.tracker.SetProgress(genID, progress, message)
		h.sessions.Dispatch(ctx, userID, models.GenerationProgress{GenerationID: genID, Message: message})
	}
}

// failureMessage переводит внутреннюю ошибку в сообщение для пользователя.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrBookNotFound):
		return "Could not find the book for this story. Please start again."
	case errors.Is(err, models.ErrPageNotFound):
		return "Could not find the page to update."
	case errors.Is(err, ai.ErrAIGenerationFailed):
		return genericFailureMessage
	default:
		return genericFailureMessage
	}
}
