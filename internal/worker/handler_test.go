package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/ai"
	"storybook-server/internal/messaging"
	"storybook-server/internal/models"
	"storybook-server/internal/session"
	"storybook-server/internal/worker"
	"storybook-server/pkg/taskmanager"
)

// fakeGenerator — ContentGenerator с настраиваемым поведением по операциям.
type fakeGenerator struct {
	storyStart func(ctx context.Context, idea models.InitialIdea, age int, style string, progress func(string)) (*ai.StoryStart, error)
	fullBook   func(ctx context.Context) (*models.GeneratedBook, error)
	nextPage   func(ctx context.Context, book *models.Book) (*models.Page, error)
	ending     func(ctx context.Context, book *models.Book) (*models.Page, error)
	revise     func(ctx context.Context, book *models.Book, pageID string) (*models.Revision, error)
	cover      func(ctx context.Context, book *models.Book) (string, error)
	video      func(ctx context.Context, book *models.Book, pageID string) (string, error)
}

func (f *fakeGenerator) GenerateStoryStart(ctx context.Context, _ string, idea models.InitialIdea, age int, style string, progress func(string)) (*ai.StoryStart, error) {
	return f.storyStart(ctx, idea, age, style, progress)
}

func (f *fakeGenerator) GenerateFullBook(ctx context.Context, _ string, _ models.InitialIdea, _ int, _ string, _ func(string)) (*models.GeneratedBook, error) {
	return f.fullBook(ctx)
}

func (f *fakeGenerator) GenerateNextPage(ctx context.Context, _ string, book *models.Book, _ models.InitialIdea, _ int, _ string) (*models.Page, error) {
	return f.nextPage(ctx, book)
}

func (f *fakeGenerator) GenerateEnding(ctx context.Context, _ string, book *models.Book, _ int, _ string) (*models.Page, error) {
	return f.ending(ctx, book)
}

func (f *fakeGenerator) RevisePage(ctx context.Context, _ string, book *models.Book, pageID string, _ string, _ *models.CaptureData, _ models.RevisionType) (*models.Revision, error) {
	return f.revise(ctx, book, pageID)
}

func (f *fakeGenerator) ReviseCover(ctx context.Context, _ string, book *models.Book, _ string) (string, error) {
	return f.cover(ctx, book)
}

func (f *fakeGenerator) GeneratePageVideo(ctx context.Context, _ string, book *models.Book, pageID string) (string, error) {
	return f.video(ctx, book, pageID)
}

type noopLibrary struct{}

func (noopLibrary) LoadLibrary(context.Context, string) ([]models.Book, error) { return nil, nil }
func (noopLibrary) SaveLibrary(context.Context, string, []models.Book) error   { return nil }

type handlerFixture struct {
	gen      *fakeGenerator
	sessions *session.Manager
	tracker  *taskmanager.TaskTracker
	handler  *worker.TaskHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		gen:      &fakeGenerator{},
		sessions: session.NewManager(session.NewReducer(), noopLibrary{}, zap.NewNop()),
		tracker:  taskmanager.NewTracker(),
	}
	t.Cleanup(f.tracker.Close)
	f.handler = worker.NewTaskHandler(f.gen, f.sessions, f.tracker, zap.NewNop())
	return f
}

// beginGeneration переводит сессию в ожидание результата с данным id.
func (f *handlerFixture) beginGeneration(genID uuid.UUID, userID string) {
	f.sessions.Dispatch(context.Background(), userID, models.StartGeneration{GenerationID: genID, Message: "..."})
}

func storyStartResult() *ai.StoryStart {
	return &ai.StoryStart{
		Title:         "The Brave Fox",
		Subtitle:      "A forest tale",
		Characters:    "Felix the fox",
		CoverImageURL: "data:image/png;base64,Y292ZXI=",
		FirstPage: models.Page{
			ID:        "page-1",
			Revisions: []models.Revision{{Text: "Once upon a time...", Type: models.RevisionInitial}},
		},
	}
}

func TestHandler_StoryStartDeliversBook(t *testing.T) {
	f := newHandlerFixture(t)
	genID := uuid.New()
	f.beginGeneration(genID, "alice")

	f.gen.storyStart = func(_ context.Context, idea models.InitialIdea, age int, style string, progress func(string)) (*ai.StoryStart, error) {
		assert.Equal(t, "a brave fox", idea.Text)
		assert.Equal(t, 6, age)
		progress("Step 1/3: Writing the beginning...")
		return storyStartResult(), nil
	}

	err := f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   genID.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypeStoryStart,
		Age:      6,
		Style:    "Watercolor",
		Idea:     &models.InitialIdea{Text: "a brave fox"},
	})
	require.NoError(t, err)

	state := f.sessions.GetState(context.Background(), "alice")
	require.NotNil(t, state.Book)
	assert.Equal(t, "The Brave Fox", state.Book.Title)
	assert.Equal(t, models.StepCreating, state.Step)
	assert.False(t, state.IsLoading)

	task, err := f.tracker.GetTask(genID)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.TaskStatusCompleted, task.Status)
}

func TestHandler_GenerationErrorSurfacesToSession(t *testing.T) {
	f := newHandlerFixture(t)
	genID := uuid.New()
	f.beginGeneration(genID, "alice")

	f.gen.storyStart = func(context.Context, models.InitialIdea, int, string, func(string)) (*ai.StoryStart, error) {
		return nil, errors.New("model exploded")
	}

	err := f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   genID.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypeStoryStart,
	})
	require.NoError(t, err)

	state := f.sessions.GetState(context.Background(), "alice")
	assert.Nil(t, state.Book)
	assert.False(t, state.IsLoading)
	assert.NotEmpty(t, state.Error)

	task, err := f.tracker.GetTask(genID)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.TaskStatusFailed, task.Status)
}

// Результат с чужим id генерации сессию не трогает: пользователь уже ушел
// с экрана или перезапустил генерацию.
func TestHandler_StaleResultIsDiscarded(t *testing.T) {
	f := newHandlerFixture(t)
	f.beginGeneration(uuid.New(), "alice") // сессия ждет ДРУГУЮ генерацию

	staleID := uuid.New()
	f.gen.storyStart = func(context.Context, models.InitialIdea, int, string, func(string)) (*ai.StoryStart, error) {
		return storyStartResult(), nil
	}

	err := f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   staleID.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypeStoryStart,
	})
	require.NoError(t, err)

	state := f.sessions.GetState(context.Background(), "alice")
	assert.Nil(t, state.Book)
	assert.True(t, state.IsLoading) // сессия все еще ждет свою генерацию
}

// Пока задача выполняется, пользователь отменяет ее и запускает новую.
// Поздний прогресс первой задачи не должен перевзводить активный id:
// сессия продолжает ждать вторую генерацию, и результат первой отбросится.
func TestHandler_LateProgressDoesNotRearmSupersededGeneration(t *testing.T) {
	f := newHandlerFixture(t)
	gen1 := uuid.New()
	gen2 := uuid.New()
	f.beginGeneration(gen1, "alice")

	f.gen.storyStart = func(_ context.Context, _ models.InitialIdea, _ int, _ string, progress func(string)) (*ai.StoryStart, error) {
		// Пользователь отменил первую генерацию и запустил вторую.
		f.sessions.Dispatch(context.Background(), "alice", models.GenerationFailed{
			GenerationID: gen1,
			Message:      "Generation was cancelled.",
		})
		f.sessions.Dispatch(context.Background(), "alice", models.StartGeneration{GenerationID: gen2, Message: "second"})

		progress("Step 2/3: Illustrating...")
		return storyStartResult(), nil
	}

	err := f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   gen1.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypeStoryStart,
	})
	require.NoError(t, err)

	state := f.sessions.GetState(context.Background(), "alice")
	assert.Equal(t, gen2, state.ActiveGenerationID)
	assert.Equal(t, "second", state.LoadingMessage)
	assert.True(t, state.IsLoading)
	assert.Nil(t, state.Book, "результат вытесненной генерации не должен примениться")
}

func TestHandler_NextPageWithoutBookFails(t *testing.T) {
	f := newHandlerFixture(t)
	genID := uuid.New()
	f.beginGeneration(genID, "alice")

	err := f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   genID.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypeNextPage,
	})
	require.NoError(t, err)

	state := f.sessions.GetState(context.Background(), "alice")
	assert.Equal(t, "Could not find the book for this story. Please start again.", state.Error)
}

// Отмена по id генерации обрывает контекст генератора; сессия получает
// вежливое сообщение, а не ошибку.
func TestHandler_CancelledTask(t *testing.T) {
	f := newHandlerFixture(t)
	genID := uuid.New()
	f.beginGeneration(genID, "alice")

	f.gen.fullBook = func(ctx context.Context) (*models.GeneratedBook, error) {
		require.NoError(t, f.tracker.CancelTask(genID))
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   genID.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypeFullBook,
	})
	require.NoError(t, err)

	state := f.sessions.GetState(context.Background(), "alice")
	assert.Equal(t, "Generation was cancelled.", state.Error)

	task, err := f.tracker.GetTask(genID)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.TaskStatusCancelled, task.Status)
}

func TestHandler_InvalidPayloadIsRejected(t *testing.T) {
	f := newHandlerFixture(t)

	err := f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   "not-a-uuid",
		UserID:   "alice",
		TaskType: messaging.TaskTypeStoryStart,
	})
	assert.Error(t, err)

	err = f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   uuid.New().String(),
		UserID:   "alice",
		TaskType: "teleportation",
	})
	assert.Error(t, err)
}

func TestHandler_PageVideoAttachesToPage(t *testing.T) {
	f := newHandlerFixture(t)
	startID := uuid.New()
	f.beginGeneration(startID, "alice")
	f.gen.storyStart = func(context.Context, models.InitialIdea, int, string, func(string)) (*ai.StoryStart, error) {
		return storyStartResult(), nil
	}
	require.NoError(t, f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   startID.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypeStoryStart,
	}))

	videoID := uuid.New()
	f.beginGeneration(videoID, "alice")
	f.gen.video = func(_ context.Context, book *models.Book, pageID string) (string, error) {
		assert.Equal(t, "page-1", pageID)
		return "https://cdn.example.com/v.mp4", nil
	}
	require.NoError(t, f.handler.Handle(context.Background(), messaging.GenerationTaskPayload{
		TaskID:   videoID.String(),
		UserID:   "alice",
		TaskType: messaging.TaskTypePageVideo,
		PageID:   "page-1",
	}))

	state := f.sessions.GetState(context.Background(), "alice")
	require.NotNil(t, state.Book)
	assert.Equal(t, "https://cdn.example.com/v.mp4", state.Book.Pages[0].VideoURL)
}
