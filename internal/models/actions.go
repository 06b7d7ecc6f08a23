package models

import "github.com/google/uuid"

// Action — закрытый набор действий над состоянием сессии.
// Каждое действие несет строго типизированный пейлоад; редьюсер
// обрабатывает их исчерпывающим switch по типу.
type Action interface {
	isAction()
}

// --- Навигация мастера ---

type SetStep struct{ Step Step }

type SetAge struct{ Age int }

type SetAuthorName struct{ Name string }

type SetPath struct{ Path StoryPath }

type SetInitialIdea struct{ Idea InitialIdea }

type SetStyle struct{ Style string }

type SetCurrentPage struct{ Index int }

// --- Жизненный цикл генерации ---

// StartGeneration переводит сессию в состояние загрузки и запоминает id
// генерации, чтобы редьюсер мог отбросить устаревшие результаты.
type StartGeneration struct {
	GenerationID uuid.UUID
	Message      string
}

// GenerationProgress обновляет сообщение загрузки по ходу генерации.
// Несет id своей генерации: прогресс отмененной или вытесненной задачи
// не должен трогать сессию.
type GenerationProgress struct {
	GenerationID uuid.UUID
	Message      string
}

// GenerationSucceeded — успешный старт интерактивной истории:
// метаданные книги, обложка и первая страница.
type GenerationSucceeded struct {
	GenerationID  uuid.UUID
	Title         string
	Subtitle      string
	Characters    string
	CoverImageURL string
	FirstPage     Page
}

// FullBookGenerated — успешная генерация книги целиком (путь "full").
type FullBookGenerated struct {
	GenerationID uuid.UUID
	Book         GeneratedBook
}

// PageAdded — к текущей книге добавлена новая страница.
type PageAdded struct {
	GenerationID uuid.UUID
	Page         Page
}

// StoryEnded — добавлена финальная страница, книга уходит на предпросмотр.
type StoryEnded struct {
	GenerationID uuid.UUID
	Page         Page
}

// RevisionAdded — к странице добавлена новая ревизия.
type RevisionAdded struct {
	GenerationID uuid.UUID
	PageID       string
	Revision     Revision
}

// CoverRevised — заменена иллюстрация обложки.
type CoverRevised struct {
	GenerationID  uuid.UUID
	CoverImageURL string
}

// PageVideoGenerated — к странице привязано сгенерированное видео.
type PageVideoGenerated struct {
	GenerationID uuid.UUID
	PageID       string
	VideoURL     string
}

// GenerationFailed — генерация завершилась ошибкой; сообщение показывается
// пользователю как есть.
type GenerationFailed struct {
	GenerationID uuid.UUID
	Message      string
}

// --- Операции над книгой ---

type SetActiveRevision struct {
	PageID        string
	RevisionIndex int
}

type AddDedication struct{ Text string }

type FinishBook struct{}

type EditBook struct{}

type LoadBook struct{ BookID string }

// --- Захват ввода в реальном времени ---

// StartCapture уводит мастер на экран рисования/записи и запоминает,
// куда вернуться после завершения или отмены.
type StartCapture struct {
	Mode         CaptureType
	From         Step
	PageID       string
	RevisionType RevisionType
}

type CancelCapture struct{}

// Reset возвращает сессию к началу мастера, сохраняя библиотеку.
type Reset struct{}

func (SetStep) isAction()            {}
func (SetAge) isAction()             {}
func (SetAuthorName) isAction()      {}
func (SetPath) isAction()            {}
func (SetInitialIdea) isAction()     {}
func (SetStyle) isAction()           {}
func (SetCurrentPage) isAction()     {}
func (StartGeneration) isAction()    {}
func (GenerationProgress) isAction() {}
func (GenerationSucceeded) isAction() {}
func (FullBookGenerated) isAction()  {}
func (PageAdded) isAction()          {}
func (StoryEnded) isAction()         {}
func (RevisionAdded) isAction()      {}
func (CoverRevised) isAction()       {}
func (PageVideoGenerated) isAction() {}
func (GenerationFailed) isAction()   {}
func (SetActiveRevision) isAction()  {}
func (AddDedication) isAction()      {}
func (FinishBook) isAction()         {}
func (EditBook) isAction()           {}
func (LoadBook) isAction()           {}
func (StartCapture) isAction()       {}
func (CancelCapture) isAction()      {}
func (Reset) isAction()              {}
