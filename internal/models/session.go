package models

import "github.com/google/uuid"

// Step — текущий шаг мастера создания книги.
type Step string

const (
	StepLanding        Step = "landing"
	StepAge            Step = "age"
	StepPath           Step = "path"
	StepAuthor         Step = "author"
	StepInput          Step = "input"
	StepStyle          Step = "style"
	StepCreating       Step = "creating"
	StepFinished       Step = "finished"
	StepLibrary        Step = "library"
	StepDrawing        Step = "drawing"
	StepRecordingVideo Step = "recordingVideo"
	StepRecordingAudio Step = "recordingAudio"
)

// StoryPath — выбранный путь создания истории.
type StoryPath string

const (
	PathInteractive StoryPath = "interactive"
	PathFull        StoryPath = "full"
)

// Возрастные границы аудитории.
const (
	MinAge     = 4
	MaxAge     = 9
	DefaultAge = 5
)

// StyleOptions — предустановленные стили иллюстраций, предлагаемые на шаге style.
var StyleOptions = []string{
	"Crayon",
	"Watercolor",
	"Comic Book",
	"Pixar-like",
	"Storybook",
	"Bold Anime",
	"Fuzzy Pastel",
	"Cutout Collage",
}

// CaptureContext фиксирует, откуда пользователь ушел в режим захвата
// и куда нужно вернуться после подтверждения или отмены.
// Одновременно может быть активен только один захват.
type CaptureContext struct {
	From         Step         `json:"from"`
	PageID       string       `json:"page_id,omitempty"`
	RevisionType RevisionType `json:"revision_type,omitempty"`
}

// SessionState — полное состояние сессии мастера. Меняется только через
// редьюсер (session.Reduce); менеджер сессий владеет состоянием явно,
// никакого ambient-доступа.
type SessionState struct {
	Step             Step            `json:"step"`
	Age              int             `json:"age"`
	AuthorName       string          `json:"author_name"`
	Path             StoryPath       `json:"path,omitempty"`
	InitialIdea      InitialIdea     `json:"initial_idea"`
	Style            string          `json:"style"`
	Book             *Book           `json:"book,omitempty"`
	IsLoading        bool            `json:"is_loading"`
	LoadingMessage   string          `json:"loading_message"`
	Error            string          `json:"error,omitempty"`
	CurrentPageIndex int             `json:"current_page_index"` // 0 = обложка, 1..N = страницы
	Library          []Book          `json:"library"`
	LibraryLoaded    bool            `json:"library_loaded"`
	CaptureContext   *CaptureContext `json:"capture_context,omitempty"`

	// ActiveGenerationID — id генерации, результата которой ждет сессия.
	// Результаты с другим id отбрасываются редьюсером как устаревшие.
	ActiveGenerationID uuid.UUID `json:"active_generation_id,omitempty"`
}

// NewSessionState возвращает начальное состояние сессии.
func NewSessionState() SessionState {
	return SessionState{
		Step:           StepLanding,
		Age:            DefaultAge,
		LoadingMessage: "Getting ready...",
	}
}
