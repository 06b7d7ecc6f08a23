package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/session"
)

// fakeLibrary — in-memory LibraryPersister с инжектируемыми ошибками.
type fakeLibrary struct {
	books     map[string][]models.Book
	loadErr   error
	saveErr   error
	saveCalls int
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{books: make(map[string][]models.Book)}
}

func (f *fakeLibrary) LoadLibrary(_ context.Context, ownerID string) ([]models.Book, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.books[ownerID], nil
}

func (f *fakeLibrary) SaveLibrary(_ context.Context, ownerID string, books []models.Book) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.books[ownerID] = books
	return nil
}

type recordingNotifier struct {
	updates []models.SessionState
}

func (r *recordingNotifier) SessionUpdated(_ string, state models.SessionState) {
	r.updates = append(r.updates, state)
}

func newManager(lib session.LibraryPersister) *session.Manager {
	return session.NewManager(session.NewReducerWithClock(testClock), lib, zap.NewNop())
}

// Прогоняет сессию до состояния с книгой.
func dispatchBook(t *testing.T, m *session.Manager, userID string) models.SessionState {
	t.Helper()
	genID := uuid.New()
	m.Dispatch(context.Background(), userID, models.StartGeneration{GenerationID: genID, Message: "..."})
	state := m.Dispatch(context.Background(), userID, models.GenerationSucceeded{
		GenerationID:  genID,
		Title:         "The Brave Fox",
		CoverImageURL: "data:image/png;base64,Y292ZXI=",
		FirstPage:     models.Page{ID: "page-1", Revisions: []models.Revision{{Text: "once", Type: models.RevisionInitial}}},
	})
	require.NotNil(t, state.Book)
	return state
}

func TestManager_NewSessionLoadsLibrary(t *testing.T) {
	lib := newFakeLibrary()
	lib.books["alice"] = []models.Book{{ID: "b1", Title: "Old favourite"}}
	m := newManager(lib)

	state := m.GetState(context.Background(), "alice")

	assert.Equal(t, models.StepLanding, state.Step)
	assert.True(t, state.LibraryLoaded)
	require.Len(t, state.Library, 1)
	assert.Equal(t, "b1", state.Library[0].ID)
}

func TestManager_LibraryLoadFailureIsRetried(t *testing.T) {
	lib := newFakeLibrary()
	lib.loadErr = errors.New("postgres down")
	m := newManager(lib)

	state := m.GetState(context.Background(), "alice")
	assert.False(t, state.LibraryLoaded)
	assert.Empty(t, state.Library)

	// Хранилище ожило — следующая диспетчеризация догружает библиотеку.
	lib.loadErr = nil
	lib.books["alice"] = []models.Book{{ID: "b1"}}
	state = m.Dispatch(context.Background(), "alice", models.SetStep{Step: models.StepAge})
	assert.True(t, state.LibraryLoaded)
	assert.Len(t, state.Library, 1)
}

func TestManager_DispatchAppliesReducer(t *testing.T) {
	m := newManager(newFakeLibrary())

	state := m.Dispatch(context.Background(), "alice", models.SetAge{Age: 7})
	assert.Equal(t, 7, state.Age)

	// Состояние удерживается между вызовами.
	state = m.GetState(context.Background(), "alice")
	assert.Equal(t, 7, state.Age)
}

func TestManager_LibraryTouchingActionPersists(t *testing.T) {
	lib := newFakeLibrary()
	m := newManager(lib)

	state := dispatchBook(t, m, "alice")

	require.Len(t, lib.books["alice"], 1)
	assert.Equal(t, state.Book.ID, lib.books["alice"][0].ID)
}

func TestManager_NavigationDoesNotPersist(t *testing.T) {
	lib := newFakeLibrary()
	m := newManager(lib)

	m.Dispatch(context.Background(), "alice", models.SetStep{Step: models.StepAge})
	m.Dispatch(context.Background(), "alice", models.SetAuthorName{Name: "Alice"})

	assert.Zero(t, lib.saveCalls)
}

// Ошибка сохранения не откатывает in-memory состояние.
func TestManager_SaveFailureKeepsState(t *testing.T) {
	lib := newFakeLibrary()
	lib.saveErr = errors.New("postgres down")
	m := newManager(lib)

	state := dispatchBook(t, m, "alice")

	assert.NotNil(t, state.Book)
	assert.Len(t, state.Library, 1)
	assert.Empty(t, lib.books["alice"])
}

func TestManager_NotifierReceivesEveryUpdate(t *testing.T) {
	m := newManager(newFakeLibrary())
	rec := &recordingNotifier{}
	m.SetNotifier(rec)

	m.Dispatch(context.Background(), "alice", models.SetStep{Step: models.StepAge})
	m.Dispatch(context.Background(), "alice", models.SetAge{Age: 6})

	require.Len(t, rec.updates, 2)
	assert.Equal(t, models.StepAge, rec.updates[0].Step)
	assert.Equal(t, 6, rec.updates[1].Age)
}

func TestManager_SessionsAreIsolatedPerUser(t *testing.T) {
	m := newManager(newFakeLibrary())

	m.Dispatch(context.Background(), "alice", models.SetAge{Age: 8})
	bob := m.GetState(context.Background(), "bob")

	assert.Equal(t, models.DefaultAge, bob.Age)
}

func TestManager_DropSessionForgetsState(t *testing.T) {
	m := newManager(newFakeLibrary())

	m.Dispatch(context.Background(), "alice", models.SetAge{Age: 8})
	m.DropSession("alice")

	state := m.GetState(context.Background(), "alice")
	assert.Equal(t, models.DefaultAge, state.Age)
}
