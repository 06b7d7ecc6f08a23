package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// LibraryPersister — durable-хранилище библиотеки, которое менеджер дергает
// после действий, меняющих список книг. Реализуется storage.LibraryStore.
type LibraryPersister interface {
	LoadLibrary(ctx context.Context, ownerID string) ([]models.Book, error)
	SaveLibrary(ctx context.Context, ownerID string, books []models.Book) error
}

// Notifier получает уведомление о каждом изменении состояния сессии.
// Используется для push-обновлений через WebSocket.
type Notifier interface {
	SessionUpdated(userID string, state models.SessionState)
}

// sessionEntry — состояние одной сессии плюс ее собственный мьютекс:
// диспетчеризация сериализуется per-user, не глобально.
type sessionEntry struct {
	mu    sync.Mutex
	state models.SessionState
}

// Manager владеет состоянием сессий всех пользователей. Редьюсер остается
// чистым: вся персистентность и нотификации живут здесь.
type Manager struct {
	reducer  *Reducer
	library  LibraryPersister
	logger   *zap.Logger
	notifier Notifier

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewManager создает менеджер сессий.
func NewManager(reducer *Reducer, library LibraryPersister, logger *zap.Logger) *Manager {
	return &Manager{
		reducer:  reducer,
		library:  library,
		logger:   logger.Named("SessionManager"),
		sessions: make(map[string]*sessionEntry),
	}
}

// SetNotifier подключает получателя push-обновлений. Вызывается один раз
// при сборке приложения, до начала обработки запросов.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Manager) entry(userID string) *sessionEntry {
	m.mu.RLock()
	e, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.sessions[userID]; ok {
		return e
	}
	e = &sessionEntry{state: models.NewSessionState()}
	m.sessions[userID] = e
	return e
}

// ensureLibrary лениво подтягивает библиотеку из durable-хранилища.
// Ошибка загрузки не фатальна: сессия живет с пустой библиотекой,
// следующая диспетчеризация попробует снова. Вызывается под e.mu.
func (m *Manager) ensureLibrary(ctx context.Context, userID string, e *sessionEntry) {
	if e.state.LibraryLoaded {
		return
	}
	books, err := m.library.LoadLibrary(ctx, userID)
	if err != nil {
		m.logger.Error("Failed to load library for session",
			zap.String("userID", userID),
			zap.Error(err),
		)
		return
	}
	e.state.Library = books
	e.state.LibraryLoaded = true
}

// GetState возвращает текущее состояние сессии пользователя, создавая
// сессию при первом обращении.
func (m *Manager) GetState(ctx context.Context, userID string) models.SessionState {
	e := m.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	m.ensureLibrary(ctx, userID, e)
	return e.state
}

// Dispatch применяет действие к сессии пользователя и возвращает новое
// состояние. Если действие изменило библиотеку, она сохраняется в durable-
// хранилище; ошибка сохранения логируется, но не откатывает состояние —
// in-memory сессия остается источником истины до следующего сохранения.
func (m *Manager) Dispatch(ctx context.Context, userID string, action models.Action) models.SessionState {
	e := m.entry(userID)
	e.mu.Lock()
	m.ensureLibrary(ctx, userID, e)

	oldState := e.state
	newState := m.reducer.Reduce(oldState, action)
	e.state = newState

	if touchesLibrary(action) {
		if err := m.library.SaveLibrary(ctx, userID, newState.Library); err != nil {
			m.logger.Error("Failed to persist library",
				zap.String("userID", userID),
				zap.Error(err),
			)
		}
	}
	e.mu.Unlock()

	if m.notifier != nil {
		m.notifier.SessionUpdated(userID, newState)
	}
	return newState
}

// DropSession выбрасывает in-memory сессию пользователя. Библиотека уже
// в durable-хранилище, поэтому ничего не теряется.
func (m *Manager) DropSession(userID string) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// touchesLibrary сообщает, меняет ли действие содержимое библиотеки.
// Навигация и захват ввода библиотеку не трогают, их персистить незачем.
func touchesLibrary(action models.Action) bool {
	switch action.(type) {
	case models.GenerationSucceeded,
		models.FullBookGenerated,
		models.PageAdded,
		models.StoryEnded,
		models.RevisionAdded,
		models.CoverRevised,
		models.PageVideoGenerated,
		models.AddDedication,
		models.FinishBook,
		models.EditBook:
		return true
	}
	return false
}
