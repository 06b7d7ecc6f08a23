package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// StoryStart — результат старта интерактивной истории: метаданные книги,
// обложка и первая страница.
type StoryStart struct {
	Title         string
	Subtitle      string
	Characters    string
	CoverImageURL string
	FirstPage     models.Page
}

// Generator — доменный генератор контента книги. Склеивает текстовую,
// графическую, голосовую и видеомодели в операции уровня "страница" и
// "книга". Не знает ничего про сессии и очереди: только контент.
type Generator struct {
	text   TextClient
	image  ImageClient
	speech SpeechClient
	video  VideoClient
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewGenerator создает генератор контента.
func NewGenerator(text TextClient, image ImageClient, speech SpeechClient, video VideoClient, logger *zap.Logger) *Generator {
	return &Generator{
		text:   text,
		image:  image,
		speech: speech,
		video:  video,
		logger: logger.Named("Generator"),
		now:    time.Now,
		newID:  newPageID,
	}
}

// newPageID генерирует короткий идентификатор страницы.
func newPageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// dataURL собирает data:-URL из mime-типа и base64-пейлоада.
func dataURL(mimeType, payload string) string {
	if strings.HasPrefix(payload, "data:") {
		return payload
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, payload)
}

// extractJSON вырезает JSON-объект из ответа модели: модели любят
// оборачивать JSON в markdown-заборы или добавлять преамбулу.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("%w: в ответе модели нет JSON-объекта", ErrAIGenerationFailed)
	}
	return raw[start : end+1], nil
}

func parseResponse(raw string, out any) error {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonText), out); err != nil {
		return fmt.Errorf("%w: некорректный JSON в ответе модели: %v", ErrAIGenerationFailed, err)
	}
	return nil
}

// ideaReferenceImage возвращает data:-URL первого графического вложения
// идеи, если оно есть.
func ideaReferenceImage(idea models.InitialIdea) string {
	for _, att := range idea.Attachments {
		if att.Type == "image" && att.Base64 != "" {
			return dataURL(att.MimeType, att.Base64)
		}
	}
	return ""
}

func (g *Generator) generateText(ctx context.Context, userID, systemPrompt, referenceImage string) (string, error) {
	var raw string
	var err error
	if referenceImage != "" {
		raw, _, err = g.text.GenerateWithImage(ctx, userID, systemPrompt, "", referenceImage, GenerationParams{})
	} else {
		raw, _, err = g.text.GenerateText(ctx, userID, systemPrompt, "", GenerationParams{})
	}
	return raw, err
}

type startResponse struct {
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
	Characters    string `json:"characters"`
	FirstPageText string `json:"firstPageText"`
}

type captureResponse struct {
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Characters  string `json:"characters"`
	PageText    string `json:"pageText"`
	ImagePrompt string `json:"imagePrompt"`
}

type nextPageResponse struct {
	NextPageText string `json:"nextPageText"`
	ImagePrompt  string `json:"imagePrompt"`
}

type endingResponse struct {
	FinalPageText string `json:"finalPageText"`
	ImagePrompt   string `json:"imagePrompt"`
}

type fullBookResponse struct {
	Title      string `json:"title"`
	Subtitle   string `json:"subtitle"`
	Characters string `json:"characters"`
	Pages      []struct {
		PageText    string `json:"pageText"`
		ImagePrompt string `json:"imagePrompt"`
	} `json:"pages"`
}

// GenerateStoryStart генерирует начало интерактивной истории: заголовок,
// подзаголовок, персонажей, обложку и первую страницу.
func (g *Generator) GenerateStoryStart(ctx context.Context, userID string, idea models.InitialIdea, age int, style string, progress func(string)) (*StoryStart, error) {
	if idea.Capture != nil {
		// Генерация из захвата быстрая, детальный прогресс не нужен.
		return g.startFromCapture(ctx, userID, idea.Capture, age, style)
	}

	progress("Step 1/3: Writing the beginning...")
	raw, err := g.generateText(ctx, userID, startPrompt(idea.Text, age), ideaReferenceImage(idea))
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации начала истории: %w", err)
	}
	var resp startResponse
	if err := parseResponse(raw, &resp); err != nil {
		return nil, err
	}

	progress("Step 2/3: Designing the cover...")
	coverImageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(style, coverPrompt(resp.Title, resp.Characters, idea.Text, age)))
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации обложки: %w", err)
	}

	progress("Step 3/3: Illustrating the first page...")
	firstPageImageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(style, firstPageImagePrompt(resp.FirstPageText, resp.Characters, age)))
	if err != nil {
		return nil, fmt.Errorf("ошибка иллюстрации первой страницы: %w", err)
	}

	return &StoryStart{
		Title:         resp.Title,
		Subtitle:      resp.Subtitle,
		Characters:    resp.Characters,
		CoverImageURL: coverImageURL,
		FirstPage: models.Page{
			ID: g.newID(),
			Revisions: []models.Revision{{
				Text:     resp.FirstPageText,
				ImageURL: firstPageImageURL,
				Type:     models.RevisionInitial,
			}},
			CurrentRevisionIndex: 0,
		},
	}, nil
}

func (g *Generator) startFromCapture(ctx context.Context, userID string, capture *models.CaptureData, age int, style string) (*StoryStart, error) {
	interp, err := g.interpretCapture(ctx, userID, capture, age,
		"This is for the very first page of a new book. Suggest a title, subtitle and characters.")
	if err != nil {
		return nil, err
	}

	// Пустые поля заполняем дружелюбными значениями по умолчанию.
	if interp.Title == "" {
		interp.Title = "A Wonderful Story"
	}
	if interp.Characters == "" {
		interp.Characters = "A friendly character"
	}

	styleInstruction := mimicDrawingStyle(capture, style)

	coverImageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(styleInstruction,
		fmt.Sprintf(`A beautiful illustration for the cover of a children's book. The book title is "%s". This title MUST be written clearly and creatively on the image. The scene should feature the main characters: %s.`, interp.Title, interp.Characters)))
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации обложки: %w", err)
	}

	firstPageImageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(styleInstruction,
		fmt.Sprintf(`%s The characters are: %s. This illustration is for the first page, not the cover. IMPORTANT: Do not include any text, letters, or words in this image.`, interp.ImagePrompt, interp.Characters)))
	if err != nil {
		return nil, fmt.Errorf("ошибка иллюстрации первой страницы: %w", err)
	}

	return &StoryStart{
		Title:         interp.Title,
		Subtitle:      interp.Subtitle,
		Characters:    interp.Characters,
		CoverImageURL: coverImageURL,
		FirstPage: models.Page{
			ID: g.newID(),
			Revisions: []models.Revision{{
				Text:     interp.PageText,
				ImageURL: firstPageImageURL,
				Type:     models.RevisionInitial,
				Capture:  capture,
			}},
			CurrentRevisionIndex: 0,
		},
	}, nil
}

// interpretCapture превращает захват (рисунок, видео-кадр или наррацию)
// в текст страницы и промт для иллюстратора.
func (g *Generator) interpretCapture(ctx context.Context, userID string, capture *models.CaptureData, age int, contextPrompt string) (*captureResponse, error) {
	systemPrompt := captureInterpretationSystemPrompt(capture, age, contextPrompt)

	var raw string
	var err error
	if capture.Base64 != "" && capture.Type != models.CaptureAudio {
		raw, _, err = g.text.GenerateWithImage(ctx, userID, systemPrompt, "", dataURL(capture.MimeType, capture.Base64), GenerationParams{})
	} else {
		raw, _, err = g.text.GenerateText(ctx, userID, systemPrompt, "", GenerationParams{})
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка интерпретации захвата: %w", err)
	}

	var resp captureResponse
	if err := parseResponse(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateFullBook генерирует книгу целиком (путь "full"): текст всех
// страниц одним запросом, затем обложка и иллюстрации постранично.
func (g *Generator) GenerateFullBook(ctx context.Context, userID string, idea models.InitialIdea, age int, style string, progress func(string)) (*models.GeneratedBook, error) {
	progress("Step 1/3: Writing your complete story...")
	raw, err := g.generateText(ctx, userID, fullBookPrompt(idea.Text, age), ideaReferenceImage(idea))
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации полной книги: %w", err)
	}
	var resp fullBookResponse
	if err := parseResponse(raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return nil, fmt.Errorf("%w: модель не вернула ни одной страницы", ErrAIGenerationFailed)
	}

	progress("Step 2/3: Designing the beautiful cover...")
	coverImageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(style,
		fmt.Sprintf(`A beautiful illustration for the cover of a children's book. The book title is "%s". This title MUST be written clearly and creatively on the image. The scene should feature the characters: %s. The visual complexity must be appropriate for a %d-year-old.`, resp.Title, resp.Characters, age)))
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации обложки: %w", err)
	}

	progress(fmt.Sprintf("Step 3/3: Illustrating %d pages...", len(resp.Pages)))
	pages := make([]models.Page, 0, len(resp.Pages))
	for _, pageContent := range resp.Pages {
		imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(style, pageImagePrompt(pageContent.ImagePrompt, resp.Characters)))
		if err != nil {
			return nil, fmt.Errorf("ошибка иллюстрации страницы: %w", err)
		}
		pages = append(pages, models.Page{
			ID: g.newID(),
			Revisions: []models.Revision{{
				Text:     pageContent.PageText,
				ImageURL: imageURL,
				Type:     models.RevisionInitial,
			}},
			CurrentRevisionIndex: 0,
		})
	}

	now := g.now()
	return &models.GeneratedBook{
		ID:            now.UTC().Format(time.RFC3339Nano),
		CreationDate:  now.Format("January 2, 2006"),
		Title:         resp.Title,
		Subtitle:      resp.Subtitle,
		Characters:    resp.Characters,
		CoverImageURL: coverImageURL,
		Pages:         pages,
		Age:           age,
		Style:         style,
	}, nil
}

// GenerateNextPage продолжает историю следующей сценой.
func (g *Generator) GenerateNextPage(ctx context.Context, userID string, book *models.Book, idea models.InitialIdea, age int, style string) (*models.Page, error) {
	if idea.Capture != nil {
		contextPrompt := fmt.Sprintf(`The story so far is: "%s". The main characters are: %s. Continue the story based on the new input.`, storySoFar(book), book.Characters)
		interp, err := g.interpretCapture(ctx, userID, idea.Capture, age, contextPrompt)
		if err != nil {
			return nil, err
		}
		imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(mimicDrawingStyle(idea.Capture, style),
			fmt.Sprintf(`%s The characters are: %s. IMPORTANT: Do not add any text, letters, or words to the image.`, interp.ImagePrompt, book.Characters)))
		if err != nil {
			return nil, fmt.Errorf("ошибка иллюстрации страницы: %w", err)
		}
		return &models.Page{
			ID: g.newID(),
			Revisions: []models.Revision{{
				Text:     interp.PageText,
				ImageURL: imageURL,
				Type:     models.RevisionInitial,
				Capture:  idea.Capture,
			}},
			CurrentRevisionIndex: 0,
		}, nil
	}

	raw, err := g.generateText(ctx, userID, nextPagePrompt(book, idea.Text, age), ideaReferenceImage(idea))
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации следующей страницы: %w", err)
	}
	var resp nextPageResponse
	if err := parseResponse(raw, &resp); err != nil {
		return nil, err
	}

	imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(style, pageImagePrompt(resp.ImagePrompt, book.Characters)))
	if err != nil {
		return nil, fmt.Errorf("ошибка иллюстрации страницы: %w", err)
	}

	return &models.Page{
		ID: g.newID(),
		Revisions: []models.Revision{{
			Text:     resp.NextPageText,
			ImageURL: imageURL,
			Type:     models.RevisionInitial,
		}},
		CurrentRevisionIndex: 0,
	}, nil
}

// GenerateEnding пишет финальную страницу истории.
func (g *Generator) GenerateEnding(ctx context.Context, userID string, book *models.Book, age int, style string) (*models.Page, error) {
	raw, _, err := g.text.GenerateText(ctx, userID, endingPrompt(book, age), "", GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации финала: %w", err)
	}
	var resp endingResponse
	if err := parseResponse(raw, &resp); err != nil {
		return nil, err
	}

	imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(style, pageImagePrompt(resp.ImagePrompt, book.Characters)))
	if err != nil {
		return nil, fmt.Errorf("ошибка иллюстрации финала: %w", err)
	}

	return &models.Page{
		ID: g.newID(),
		Revisions: []models.Revision{{
			Text:     resp.FinalPageText,
			ImageURL: imageURL,
			Type:     models.RevisionInitial,
		}},
		CurrentRevisionIndex: 0,
	}, nil
}

// RevisePage создает новую ревизию страницы по текстовой инструкции или
// захвату. Старые ревизии остаются нетронутыми.
func (g *Generator) RevisePage(ctx context.Context, userID string, book *models.Book, pageID string, instruction string, capture *models.CaptureData, revisionType models.RevisionType) (*models.Revision, error) {
	page, ok := book.PageByID(pageID)
	if !ok {
		return nil, models.ErrPageNotFound
	}
	current, ok := page.CurrentRevision()
	if !ok {
		return nil, models.ErrPageNotFound
	}

	if capture != nil {
		contextPrompt := fmt.Sprintf(`The current page text is: "%s". The user wants to revise it based on their new input. The main characters are: %s.`, current.Text, book.Characters)
		interp, err := g.interpretCapture(ctx, userID, capture, book.Age, contextPrompt)
		if err != nil {
			return nil, err
		}
		imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(mimicDrawingStyle(capture, book.Style),
			fmt.Sprintf(`%s The characters are: %s. IMPORTANT: Do not add any text, letters, or words to the image.`, interp.ImagePrompt, book.Characters)))
		if err != nil {
			return nil, fmt.Errorf("ошибка иллюстрации ревизии: %w", err)
		}
		// Ревизия из захвата меняет и текст, и картинку.
		return &models.Revision{
			Text:     interp.PageText,
			ImageURL: imageURL,
			Type:     models.RevisionText,
			Capture:  capture,
		}, nil
	}

	characterInfo := ""
	if book.Characters != "" {
		characterInfo = fmt.Sprintf(" Remember the main characters are: %s.", book.Characters)
	}

	if revisionType == models.RevisionText {
		raw, _, err := g.text.GenerateText(ctx, userID, textRevisionPrompt(current.Text, instruction, book.Age), "", GenerationParams{})
		if err != nil {
			return nil, fmt.Errorf("ошибка переписывания текста: %w", err)
		}
		newText := strings.TrimSpace(raw)

		imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(book.Style,
			fmt.Sprintf(`An illustration for the scene: "%s".%s Maintain the style of the book. IMPORTANT: Do not add any text, letters, or words to the image.`, newText, characterInfo)))
		if err != nil {
			return nil, fmt.Errorf("ошибка иллюстрации ревизии: %w", err)
		}
		return &models.Revision{Text: newText, ImageURL: imageURL, Type: models.RevisionText}, nil
	}

	// Ревизия только картинки: текст остается прежним.
	imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(book.Style,
		fmt.Sprintf(`%s.%s IMPORTANT: Do not add any text, letters, or words to the image.`, instruction, characterInfo)))
	if err != nil {
		return nil, fmt.Errorf("ошибка иллюстрации ревизии: %w", err)
	}
	return &models.Revision{Text: current.Text, ImageURL: imageURL, Type: models.RevisionImage}, nil
}

// ReviseCover перерисовывает обложку по инструкции пользователя.
func (g *Generator) ReviseCover(ctx context.Context, userID string, book *models.Book, instruction string) (string, error) {
	imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(book.Style, coverRevisionPrompt(book, instruction)))
	if err != nil {
		return "", fmt.Errorf("ошибка ревизии обложки: %w", err)
	}
	return imageURL, nil
}

// GenerateStylePreview генерирует превью визуального стиля для шага выбора.
func (g *Generator) GenerateStylePreview(ctx context.Context, userID string, idea models.InitialIdea, style string) (string, error) {
	ideaText := idea.Text
	if ideaText == "" {
		ideaText = "a friendly character on an adventure"
	}
	prompt := fmt.Sprintf(`A sample image for a story about: "%s" The illustration must NOT contain any text, letters, or words.`, ideaText)
	imageURL, err := g.image.GenerateImage(ctx, userID, styleDirective(style, prompt))
	if err != nil {
		return "", fmt.Errorf("ошибка генерации превью стиля: %w", err)
	}
	return imageURL, nil
}

// GenerateNarration озвучивает текст страницы голосом рассказчика.
func (g *Generator) GenerateNarration(ctx context.Context, userID string, text string) (string, error) {
	audioURL, err := g.speech.GenerateSpeech(ctx, userID, text)
	if err != nil {
		return "", fmt.Errorf("ошибка озвучки страницы: %w", err)
	}
	return audioURL, nil
}

// GeneratePageVideo генерирует анимированную сцену для страницы.
// Текст страницы сначала прогоняется через "страж безопасности", чтобы
// видеомодель не отклонила промт.
func (g *Generator) GeneratePageVideo(ctx context.Context, userID string, book *models.Book, pageID string) (string, error) {
	if g.video == nil {
		return "", fmt.Errorf("видеогенерация не настроена")
	}
	page, ok := book.PageByID(pageID)
	if !ok {
		return "", models.ErrPageNotFound
	}
	current, ok := page.CurrentRevision()
	if !ok {
		return "", models.ErrPageNotFound
	}

	safeDescription, _, err := g.text.GenerateText(ctx, userID, safeVideoPrompt(current.Text), "", GenerationParams{})
	if err != nil {
		return "", fmt.Errorf("ошибка подготовки видео-промта: %w", err)
	}
	safeDescription = strings.TrimSpace(safeDescription)

	videoURL, err := g.video.GenerateVideo(ctx, userID, videoScenePrompt(book, current.Text, safeDescription), current.ImageURL)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации видео: %w", err)
	}
	return videoURL, nil
}
