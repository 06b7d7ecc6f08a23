package session

import (
	"time"

	"github.com/google/uuid"

	"storybook-server/internal/models"
)

// Reducer — чистая функция перехода состояния сессии.
// Никаких побочных эффектов и I/O: часы инжектируются для тестируемости,
// все вложенные структуры копируются (copy-on-write), старое и новое
// состояние не разделяют изменяемых данных.
type Reducer struct {
	now func() time.Time
}

// NewReducer создает редьюсер с системными часами.
func NewReducer() *Reducer {
	return &Reducer{now: time.Now}
}

// NewReducerWithClock создает редьюсер с заданными часами (для тестов).
func NewReducerWithClock(now func() time.Time) *Reducer {
	return &Reducer{now: now}
}

// updateLibrary возвращает новую библиотеку с книгой, вставленной или
// замененной по id. Сохранение в durable-хранилище — забота менеджера
// сессий, не редьюсера.
func updateLibrary(library []models.Book, book *models.Book) []models.Book {
	if book == nil {
		return library
	}
	newLibrary := make([]models.Book, len(library))
	copy(newLibrary, library)
	for i := range newLibrary {
		if newLibrary[i].ID == book.ID {
			newLibrary[i] = *book
			return newLibrary
		}
	}
	return append(newLibrary, *book)
}

// cloneBook делает глубокую копию книги, чтобы мутации нового состояния
// не просачивались в старое.
func cloneBook(b *models.Book) *models.Book {
	return b.Clone()
}

func clonePages(pages []models.Page) []models.Page {
	cloned := make([]models.Page, len(pages))
	for i, p := range pages {
		cp := p
		cp.Revisions = append([]models.Revision(nil), p.Revisions...)
		cloned[i] = cp
	}
	return cloned
}

// matchesGeneration проверяет, относится ли результат генерации к той
// генерации, которую сессия сейчас ждет. Результаты с чужим id считаются
// устаревшими и отбрасываются: пользователь мог уйти с экрана или
// перезапустить генерацию, пока задача выполнялась.
func matchesGeneration(state models.SessionState, id uuid.UUID) bool {
	return state.ActiveGenerationID == id
}

// Reduce применяет действие к состоянию и возвращает новое состояние.
// Функция никогда не паникует и не возвращает ошибок: отсутствующие
// сущности превращаются в человекочитаемую строку в state.Error.
func (r *Reducer) Reduce(state models.SessionState, action models.Action) models.SessionState {
	switch a := action.(type) {
	case models.SetStep:
		state.Step = a.Step
		return state

	case models.SetAge:
		state.Age = a.Age
		return state

	case models.SetAuthorName:
		state.AuthorName = a.Name
		return state

	case models.SetPath:
		state.Path = a.Path
		return state

	case models.SetInitialIdea:
		state.InitialIdea = a.Idea
		return state

	case models.SetStyle:
		state.Style = a.Style
		return state

	case models.SetCurrentPage:
		state.CurrentPageIndex = a.Index
		return state

	case models.StartGeneration:
		state.IsLoading = true
		state.LoadingMessage = a.Message
		state.Error = ""
		state.ActiveGenerationID = a.GenerationID
		return state

	case models.GenerationProgress:
		// Прогресс чужой генерации (отмененной или вытесненной новой)
		// не должен трогать сессию и уж тем более перевзводить id.
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		state.LoadingMessage = a.Message
		return state

	case models.GenerationSucceeded:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		now := r.now()
		idea := state.InitialIdea
		if idea.Attachments != nil {
			idea.Attachments = append([]models.MediaAttachment(nil), idea.Attachments...)
		}
		newBook := &models.Book{
			ID:            now.UTC().Format(time.RFC3339Nano),
			CreationDate:  now.Format("January 2, 2006"),
			Age:           state.Age,
			Style:         state.Style,
			Author:        state.AuthorName,
			Title:         a.Title,
			Subtitle:      a.Subtitle,
			Characters:    a.Characters,
			CoverImageURL: a.CoverImageURL,
			Pages:         []models.Page{a.FirstPage},
			IsFinished:    false,
			InitialIdea:   &idea,
		}
		state.IsLoading = false
		state.Book = newBook
		state.Step = models.StepCreating
		// Начинаем с индекса 0 — это обложка.
		state.CurrentPageIndex = 0
		state.Library = updateLibrary(state.Library, newBook)
		state.CaptureContext = nil
		state.InitialIdea = models.InitialIdea{}
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.FullBookGenerated:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		gb := a.Book
		newBook := &models.Book{
			ID:            gb.ID,
			CreationDate:  gb.CreationDate,
			Title:         gb.Title,
			Subtitle:      gb.Subtitle,
			Characters:    gb.Characters,
			CoverImageURL: gb.CoverImageURL,
			Pages:         clonePages(gb.Pages),
			Age:           state.Age,
			Style:         state.Style,
			Author:        state.AuthorName,
			IsFinished:    false, // Не завершена, пока не подтверждена во вьювере
		}
		state.IsLoading = false
		state.Book = newBook
		state.Step = models.StepFinished // Сразу во вьювер для полной книги
		state.CurrentPageIndex = 0
		state.Library = updateLibrary(state.Library, newBook)
		state.CaptureContext = nil
		state.InitialIdea = models.InitialIdea{}
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.PageAdded:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		if state.Book == nil {
			state.IsLoading = false
			state.Error = "Book not found to add page"
			return state
		}
		updated := cloneBook(state.Book)
		updated.Pages = append(updated.Pages, a.Page)
		state.IsLoading = false
		state.Book = updated
		state.Step = models.StepCreating
		// Переходим на только что добавленную страницу: ее индекс равен
		// len(pages) в нумерации "обложка = 0".
		state.CurrentPageIndex = len(updated.Pages)
		state.Library = updateLibrary(state.Library, updated)
		state.CaptureContext = nil
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.StoryEnded:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		if state.Book == nil {
			state.IsLoading = false
			state.Error = "Book not found to end story"
			return state
		}
		updated := cloneBook(state.Book)
		updated.Pages = append(updated.Pages, a.Page)
		updated.IsFinished = false // Завершение требует явного подтверждения
		state.IsLoading = false
		state.Book = updated
		state.Step = models.StepFinished // Предпросмотр перед подтверждением
		state.Library = updateLibrary(state.Library, updated)
		// CaptureContext намеренно не очищается: финал истории не проходит
		// через детур захвата, а GenerationFailed вернется по его From.
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.RevisionAdded:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		if state.Book == nil {
			state.IsLoading = false
			state.Error = "Book not found for revision"
			return state
		}
		updated := cloneBook(state.Book)
		for i := range updated.Pages {
			if updated.Pages[i].ID == a.PageID {
				updated.Pages[i].Revisions = append(updated.Pages[i].Revisions, a.Revision)
				updated.Pages[i].CurrentRevisionIndex = len(updated.Pages[i].Revisions) - 1
			}
		}
		state.IsLoading = false
		state.Book = updated
		state.Step = models.StepCreating
		state.Library = updateLibrary(state.Library, updated)
		state.CaptureContext = nil
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.CoverRevised:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		if state.Book == nil {
			return state
		}
		updated := cloneBook(state.Book)
		updated.CoverImageURL = a.CoverImageURL
		state.IsLoading = false
		state.Book = updated
		state.Library = updateLibrary(state.Library, updated)
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.PageVideoGenerated:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		if state.Book == nil {
			return state
		}
		updated := cloneBook(state.Book)
		for i := range updated.Pages {
			if updated.Pages[i].ID == a.PageID {
				updated.Pages[i].VideoURL = a.VideoURL
			}
		}
		state.IsLoading = false
		state.Book = updated
		state.Library = updateLibrary(state.Library, updated)
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.GenerationFailed:
		if !matchesGeneration(state, a.GenerationID) {
			return state
		}
		state.IsLoading = false
		state.Error = a.Message
		// Возвращаемся туда, откуда пользователь ушел в захват/генерацию.
		if state.CaptureContext != nil {
			state.Step = state.CaptureContext.From
		}
		state.CaptureContext = nil
		state.ActiveGenerationID = uuid.Nil
		return state

	case models.SetActiveRevision:
		if state.Book == nil {
			return state
		}
		updated := cloneBook(state.Book)
		for i := range updated.Pages {
			if updated.Pages[i].ID == a.PageID {
				// Страница без ревизий — поврежденные данные; не трогаем,
				// чтобы не записать отрицательный индекс.
				if len(updated.Pages[i].Revisions) == 0 {
					continue
				}
				// Индекс ограничивается валидным диапазоном: вызывающему
				// нельзя доверять передачу корректного значения.
				idx := a.RevisionIndex
				if idx < 0 {
					idx = 0
				}
				if max := len(updated.Pages[i].Revisions) - 1; idx > max {
					idx = max
				}
				updated.Pages[i].CurrentRevisionIndex = idx
			}
		}
		state.Book = updated
		return state

	case models.AddDedication:
		if state.Book == nil {
			return state
		}
		updated := cloneBook(state.Book)
		updated.Dedication = a.Text
		state.Book = updated
		state.Library = updateLibrary(state.Library, updated)
		return state

	case models.FinishBook:
		if state.Book == nil {
			return state
		}
		finished := cloneBook(state.Book)
		finished.IsFinished = true
		state.Book = finished
		state.Library = updateLibrary(state.Library, finished)
		state.Step = models.StepLibrary // После завершения — в библиотеку
		return state

	case models.EditBook:
		if state.Book == nil {
			return state
		}
		unfinished := cloneBook(state.Book)
		unfinished.IsFinished = false
		state.Book = unfinished
		state.Library = updateLibrary(state.Library, unfinished)
		state.Step = models.StepCreating
		state.CurrentPageIndex = len(unfinished.Pages)
		return state

	case models.LoadBook:
		var found *models.Book
		for i := range state.Library {
			if state.Library[i].ID == a.BookID {
				found = &state.Library[i]
				break
			}
		}
		if found == nil {
			state.Error = "Could not find book to load."
			return state
		}
		loaded := cloneBook(found)
		state.Book = loaded
		if loaded.IsFinished {
			state.Step = models.StepFinished
			state.CurrentPageIndex = 0
		} else {
			// Незавершенная книга открывается на последней странице.
			state.Step = models.StepCreating
			state.CurrentPageIndex = len(loaded.Pages)
		}
		return state

	case models.StartCapture:
		switch a.Mode {
		case models.CaptureDrawing:
			state.Step = models.StepDrawing
		case models.CaptureVideo:
			state.Step = models.StepRecordingVideo
		case models.CaptureAudio:
			state.Step = models.StepRecordingAudio
		}
		state.CaptureContext = &models.CaptureContext{
			From:         a.From,
			PageID:       a.PageID,
			RevisionType: a.RevisionType,
		}
		return state

	case models.CancelCapture:
		if state.CaptureContext != nil {
			state.Step = state.CaptureContext.From
		} else {
			state.Step = models.StepLanding
		}
		state.CaptureContext = nil
		return state

	case models.Reset:
		fresh := models.NewSessionState()
		fresh.Library = state.Library
		fresh.LibraryLoaded = state.LibraryLoaded
		fresh.Step = models.StepAge
		return fresh
	}

	return state
}
