package models

// CaptureType определяет режим захвата ввода в реальном времени.
type CaptureType string

const (
	CaptureDrawing CaptureType = "drawing"
	CaptureVideo   CaptureType = "video"
	CaptureAudio   CaptureType = "audio"
)

// MediaSource определяет происхождение медиа-вложения.
type MediaSource string

const (
	SourceUpload    MediaSource = "upload"
	SourceDrawing   MediaSource = "drawing"
	SourceRecording MediaSource = "recording"
)

// RevisionType определяет, что именно изменила ревизия страницы.
type RevisionType string

const (
	RevisionInitial RevisionType = "initial"
	RevisionText    RevisionType = "text"
	RevisionImage   RevisionType = "image"
)

// CaptureData содержит результат захвата (рисунок, кадр видео или аудио-наррация),
// который передается в генерацию как дополнительный контекст.
type CaptureData struct {
	Type       CaptureType `json:"type"`
	Base64     string      `json:"base64,omitempty"`
	MimeType   string      `json:"mime_type,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Text       string      `json:"text,omitempty"`
	MimicStyle bool        `json:"mimic_style,omitempty"`
}

// MediaAttachment — медиа-вложение этапа сбора идеи (загрузка, рисунок или запись).
// Тяжелый Base64-пейлоад выносится в blob-хранилище при сохранении библиотеки.
type MediaAttachment struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"` // image | video
	Source     MediaSource `json:"source"`
	Base64     string      `json:"base64,omitempty"`
	MimeType   string      `json:"mime_type,omitempty"`
	PreviewURL string      `json:"preview_url,omitempty"`
	Filename   string      `json:"filename,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	MimicStyle bool        `json:"mimic_style,omitempty"`
}

// InitialIdea — идея истории, собранная на шаге input.
type InitialIdea struct {
	Text        string            `json:"text,omitempty"`
	Attachments []MediaAttachment `json:"attachments,omitempty"`
	Capture     *CaptureData      `json:"capture,omitempty"`
}

// Revision — одна версия текста и иллюстрации страницы.
// Ревизии неизменяемы: правка страницы добавляет новую ревизию,
// а не мутирует старую.
type Revision struct {
	Text     string       `json:"text"`
	ImageURL string       `json:"image_url"`
	Type     RevisionType `json:"type"`
	Capture  *CaptureData `json:"capture,omitempty"`
	AudioURL string       `json:"audio_url,omitempty"`
}

// Page — страница книги с append-only историей ревизий.
// Инвариант: len(Revisions) >= 1 и 0 <= CurrentRevisionIndex < len(Revisions).
type Page struct {
	ID                   string     `json:"id"`
	Revisions            []Revision `json:"revisions"`
	CurrentRevisionIndex int        `json:"current_revision_index"`
	VideoURL             string     `json:"video_url,omitempty"`
}

// CurrentRevision возвращает активную ревизию страницы.
// Ok == false, если индекс вне диапазона (поврежденные данные).
func (p *Page) CurrentRevision() (Revision, bool) {
	if p.CurrentRevisionIndex < 0 || p.CurrentRevisionIndex >= len(p.Revisions) {
		return Revision{}, false
	}
	return p.Revisions[p.CurrentRevisionIndex], true
}

// GeneratedBook — результат полной генерации книги AI (путь "full").
// Поля автора и флага завершенности заполняются редьюсером из состояния сессии.
type GeneratedBook struct {
	ID            string `json:"id"`
	CreationDate  string `json:"creation_date"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
	Characters    string `json:"characters"`
	CoverImageURL string `json:"cover_image_url"`
	Pages         []Page `json:"pages"`
	Age           int    `json:"age"`
	Style         string `json:"style"`
}

// Book — законченный артефакт истории, принадлежащий библиотеке.
type Book struct {
	ID            string       `json:"id"`
	CreationDate  string       `json:"creation_date"`
	Title         string       `json:"title"`
	Subtitle      string       `json:"subtitle"`
	Characters    string       `json:"characters"`
	CoverImageURL string       `json:"cover_image_url"`
	Pages         []Page       `json:"pages"`
	Age           int          `json:"age"`
	Style         string       `json:"style"`
	Author        string       `json:"author"`
	IsFinished    bool         `json:"is_finished"`
	Dedication    string       `json:"dedication,omitempty"`
	InitialIdea   *InitialIdea `json:"initial_idea,omitempty"`
}

// Clone делает глубокую копию книги. Страницы, ревизии и вложения идеи
// копируются, так что мутации копии не затрагивают оригинал.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Pages = make([]Page, len(b.Pages))
	for i, p := range b.Pages {
		pc := p
		pc.Revisions = append([]Revision(nil), p.Revisions...)
		cp.Pages[i] = pc
	}
	if b.InitialIdea != nil {
		idea := *b.InitialIdea
		if b.InitialIdea.Attachments != nil {
			idea.Attachments = append([]MediaAttachment(nil), b.InitialIdea.Attachments...)
		}
		cp.InitialIdea = &idea
	}
	return &cp
}

// PageByID возвращает страницу по ее ID.
func (b *Book) PageByID(pageID string) (*Page, bool) {
	for i := range b.Pages {
		if b.Pages[i].ID == pageID {
			return &b.Pages[i], true
		}
	}
	return nil, false
}
