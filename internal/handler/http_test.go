package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/auth"
	"storybook-server/internal/messaging"
	"storybook-server/internal/messaging/mocks"
	"storybook-server/internal/models"
	"storybook-server/internal/session"
)

const testUserID = "user-1"

// stubValidator принимает единственный токен "valid-token".
type stubValidator struct{}

func (stubValidator) ValidateAccessToken(tokenString string) (*auth.CustomClaims, error) {
	if tokenString != "valid-token" {
		return nil, models.ErrTokenInvalid
	}
	return &auth.CustomClaims{UserID: testUserID, Username: "alice"}, nil
}

type stubCanceller struct {
	cancelled []uuid.UUID
	err       error
}

func (s *stubCanceller) CancelTask(taskID uuid.UUID) error {
	s.cancelled = append(s.cancelled, taskID)
	return s.err
}

type stubGenerator struct {
	narrationURL string
	previewURL   string
	err          error
}

func (s *stubGenerator) GenerateNarration(context.Context, string, string) (string, error) {
	return s.narrationURL, s.err
}

func (s *stubGenerator) GenerateStylePreview(context.Context, string, models.InitialIdea, string) (string, error) {
	return s.previewURL, s.err
}

type noopLibrary struct{}

func (noopLibrary) LoadLibrary(context.Context, string) ([]models.Book, error) { return nil, nil }
func (noopLibrary) SaveLibrary(context.Context, string, []models.Book) error   { return nil }

type apiFixture struct {
	router    *gin.Engine
	sessions  *session.Manager
	publisher *mocks.MockTaskPublisher
	canceller *stubCanceller
	generator *stubGenerator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		sessions:  session.NewManager(session.NewReducer(), noopLibrary{}, zap.NewNop()),
		publisher: mocks.NewMockTaskPublisher(t),
		canceller: &stubCanceller{},
		generator: &stubGenerator{narrationURL: "data:audio/mp3;base64,bXAz", previewURL: "data:image/png;base64,cHJl"},
	}

	h := NewAPIHandler(f.sessions, f.publisher, f.canceller, f.generator, stubValidator{}, zap.NewNop())
	f.router = gin.New()
	h.RegisterRoutes(f.router)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer valid-token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) state() models.SessionState {
	return f.sessions.GetState(context.Background(), testUserID)
}

func TestAPI_RequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_GetSessionReturnsInitialState(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state models.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, models.StepLanding, state.Step)
	assert.Equal(t, models.DefaultAge, state.Age)
}

func TestAPI_DispatchWizardActions(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/session/actions", actionRequest{
		Type:    "set_age",
		Payload: json.RawMessage(`{"age": 7}`),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, f.state().Age)

	rec = f.do(t, http.MethodPost, "/api/session/actions", actionRequest{
		Type:    "set_style",
		Payload: json.RawMessage(`{"style": "Watercolor"}`),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Watercolor", f.state().Style)
}

func TestAPI_DispatchRejectsBadActions(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/session/actions", actionRequest{Type: "launch_rocket"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Возраст вне диапазона
	rec = f.do(t, http.MethodPost, "/api/session/actions", actionRequest{
		Type:    "set_age",
		Payload: json.RawMessage(`{"age": 42}`),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Действия жизненного цикла генерации не доступны через API
	rec = f.do(t, http.MethodPost, "/api/session/actions", actionRequest{
		Type:    "generation_succeeded",
		Payload: json.RawMessage(`{}`),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_StartStoryEnqueuesTask(t *testing.T) {
	f := newAPIFixture(t)

	f.do(t, http.MethodPost, "/api/session/actions", actionRequest{
		Type:    "set_age",
		Payload: json.RawMessage(`{"age": 6}`),
	})
	f.do(t, http.MethodPost, "/api/session/actions", actionRequest{
		Type:    "set_initial_idea",
		Payload: json.RawMessage(`{"idea": {"text": "a brave fox"}}`),
	})

	var published messaging.GenerationTaskPayload
	f.publisher.On("PublishGenerationTask", mock.Anything, mock.MatchedBy(func(p messaging.GenerationTaskPayload) bool {
		published = p
		return p.TaskType == messaging.TaskTypeStoryStart
	})).Return(nil).Once()

	rec := f.do(t, http.MethodPost, "/api/story/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp generationAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, published.TaskID, resp.GenerationID)
	assert.Equal(t, testUserID, published.UserID)
	assert.Equal(t, 6, published.Age)
	require.NotNil(t, published.Idea)
	assert.Equal(t, "a brave fox", published.Idea.Text)

	state := f.state()
	assert.True(t, state.IsLoading)
	assert.Equal(t, published.TaskID, state.ActiveGenerationID.String())
}

func TestAPI_StartStoryConflictsWhileLoading(t *testing.T) {
	f := newAPIFixture(t)

	f.publisher.On("PublishGenerationTask", mock.Anything, mock.Anything).Return(nil).Once()
	rec := f.do(t, http.MethodPost, "/api/story/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/story/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_PublishFailureUnblocksSession(t *testing.T) {
	f := newAPIFixture(t)

	f.publisher.On("PublishGenerationTask", mock.Anything, mock.Anything).
		Return(assert.AnError).Once()

	rec := f.do(t, http.MethodPost, "/api/story/start", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	state := f.state()
	assert.False(t, state.IsLoading)
	assert.NotEmpty(t, state.Error)
}

func TestAPI_NextPageRequiresBook(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/story/next", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_CancelGeneration(t *testing.T) {
	f := newAPIFixture(t)

	f.publisher.On("PublishGenerationTask", mock.Anything, mock.Anything).Return(nil).Once()
	rec := f.do(t, http.MethodPost, "/api/story/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	genID := f.state().ActiveGenerationID

	rec = f.do(t, http.MethodPost, "/api/story/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.canceller.cancelled, 1)
	assert.Equal(t, genID, f.canceller.cancelled[0])

	state := f.state()
	assert.False(t, state.IsLoading)
	assert.Equal(t, "Generation was cancelled.", state.Error)

	// Повторная отмена без активной генерации — конфликт
	rec = f.do(t, http.MethodPost, "/api/story/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_Narration(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/story/narration", narrationRequest{Text: "Once upon a time"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "data:audio/mp3;base64,bXAz", resp["audio_url"])
}

func TestAPI_StylePreview(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/story/style-preview", stylePreviewRequest{Style: "Crayon"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "data:image/png;base64,cHJl", resp["image_url"])
}

func TestAPI_OpenBookNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/library/nope/open", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_LibraryRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	// Заводим книгу в сессии через жизненный цикл генерации
	genID := uuid.New()
	ctx := context.Background()
	f.sessions.Dispatch(ctx, testUserID, models.StartGeneration{GenerationID: genID, Message: "..."})
	f.sessions.Dispatch(ctx, testUserID, models.GenerationSucceeded{
		GenerationID:  genID,
		Title:         "The Brave Fox",
		CoverImageURL: "asset://cover",
		FirstPage:     models.Page{ID: "p1"},
	})

	rec := f.do(t, http.MethodGet, "/api/library", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Library []models.Book `json:"library"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Library, 1)
	assert.Equal(t, "The Brave Fox", resp.Library[0].Title)

	bookID := resp.Library[0].ID
	rec = f.do(t, http.MethodPost, "/api/library/"+bookID+"/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	state := f.state()
	require.NotNil(t, state.Book)
	assert.Equal(t, bookID, state.Book.ID)
}
