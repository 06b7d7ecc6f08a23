package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// AssetTokenPrefix — префикс ссылочного токена, замещающего тяжелый
// inline-пейлоад в облегченном (индексном) представлении книги.
const AssetTokenPrefix = "asset://"

// AssetToken строит ссылочный токен для составного ключа ассета.
func AssetToken(key string) string {
	return AssetTokenPrefix + key
}

// IsAssetToken сообщает, является ли значение поля ссылочным токеном.
func IsAssetToken(value string) bool {
	return strings.HasPrefix(value, AssetTokenPrefix)
}

// isInlinePayload — inline data URL, который нужно вынести в blob-хранилище.
func isInlinePayload(value string) bool {
	return strings.HasPrefix(value, "data:")
}

// Ключи ассетов. Формат составной: сначала id книги, затем роль
// (обложка, пара страница/ревизия, видео страницы, вложение идеи).
func coverKey(bookID string) string { return bookID + "-cover" }

func revisionImageKey(bookID, pageID string, revIdx int) string {
	return fmt.Sprintf("%s-%s-%d", bookID, pageID, revIdx)
}

func revisionAudioKey(bookID, pageID string, revIdx int) string {
	return fmt.Sprintf("%s-%s-%d-audio", bookID, pageID, revIdx)
}

func pageVideoKey(bookID, pageID string) string {
	return fmt.Sprintf("%s-%s-video", bookID, pageID)
}

func ideaAttachmentKey(bookID, attachmentID string) string {
	return fmt.Sprintf("%s-idea-%s", bookID, attachmentID)
}

// Sanitizer переводит книги между полным (in-memory, с inline-медиа) и
// облегченным (индексным) представлением. Тяжелые пейлоады живут только
// в blob-хранилище; индекс содержит ссылочные токены.
type Sanitizer struct {
	store  AssetStore
	logger *zap.Logger
}

// NewSanitizer создает Sanitizer поверх blob-хранилища.
func NewSanitizer(store AssetStore, logger *zap.Logger) *Sanitizer {
	return &Sanitizer{
		store:  store,
		logger: logger.Named("Sanitizer"),
	}
}

// Sanitize возвращает облегченную копию книги: каждый inline-пейлоад
// записан в blob-хранилище под составным ключом и заменен токеном.
// Книга вызывающего не мутируется. Ошибка записи blob прерывает
// санитизацию: терять пейлоад, заменив его токеном без ассета, нельзя.
func (s *Sanitizer) Sanitize(ctx context.Context, book *models.Book) (*models.Book, error) {
	light := book.Clone()

	externalize := func(key, value string) (string, error) {
		if err := s.store.SaveAsset(ctx, book.ID, key, value); err != nil {
			return "", err
		}
		return AssetToken(key), nil
	}

	if isInlinePayload(light.CoverImageURL) {
		token, err := externalize(coverKey(book.ID), light.CoverImageURL)
		if err != nil {
			return nil, fmt.Errorf("санитизация обложки: %w", err)
		}
		light.CoverImageURL = token
	}

	for pi := range light.Pages {
		page := &light.Pages[pi]
		for ri := range page.Revisions {
			rev := &page.Revisions[ri]
			if isInlinePayload(rev.ImageURL) {
				token, err := externalize(revisionImageKey(book.ID, page.ID, ri), rev.ImageURL)
				if err != nil {
					return nil, fmt.Errorf("санитизация ревизии %s/%d: %w", page.ID, ri, err)
				}
				rev.ImageURL = token
			}
			if isInlinePayload(rev.AudioURL) {
				token, err := externalize(revisionAudioKey(book.ID, page.ID, ri), rev.AudioURL)
				if err != nil {
					return nil, fmt.Errorf("санитизация аудио %s/%d: %w", page.ID, ri, err)
				}
				rev.AudioURL = token
			}
		}
		if isInlinePayload(page.VideoURL) {
			token, err := externalize(pageVideoKey(book.ID, page.ID), page.VideoURL)
			if err != nil {
				return nil, fmt.Errorf("санитизация видео %s: %w", page.ID, err)
			}
			page.VideoURL = token
		}
	}

	if light.InitialIdea != nil {
		for ai := range light.InitialIdea.Attachments {
			att := &light.InitialIdea.Attachments[ai]
			// Уже вынесенные вложения (токен вместо пейлоада) пропускаем.
			if att.Base64 == "" || IsAssetToken(att.Base64) {
				continue
			}
			token, err := externalize(ideaAttachmentKey(book.ID, att.ID), att.Base64)
			if err != nil {
				return nil, fmt.Errorf("санитизация вложения %s: %w", att.ID, err)
			}
			att.Base64 = token
		}
	}

	return light, nil
}

// Hydrate возвращает полную копию облегченной книги: токены заменены
// пейлоадами из blob-хранилища. Токен без ассета оставляется как есть —
// это признак потерянного/собранного GC ассета, а не причина падать.
func (s *Sanitizer) Hydrate(ctx context.Context, book *models.Book) (*models.Book, error) {
	full := book.Clone()

	assets, err := s.store.GetAssetsForBook(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("гидратация книги %s: %w", book.ID, err)
	}

	resolve := func(value string) string {
		if !IsAssetToken(value) {
			return value
		}
		if data, ok := assets[strings.TrimPrefix(value, AssetTokenPrefix)]; ok {
			return data
		}
		s.logger.Warn("Asset referenced by token is missing",
			zap.String("bookID", book.ID),
			zap.String("token", value),
		)
		return value
	}

	full.CoverImageURL = resolve(full.CoverImageURL)
	for pi := range full.Pages {
		page := &full.Pages[pi]
		for ri := range page.Revisions {
			page.Revisions[ri].ImageURL = resolve(page.Revisions[ri].ImageURL)
			page.Revisions[ri].AudioURL = resolve(page.Revisions[ri].AudioURL)
		}
		page.VideoURL = resolve(page.VideoURL)
	}
	if full.InitialIdea != nil {
		for ai := range full.InitialIdea.Attachments {
			full.InitialIdea.Attachments[ai].Base64 = resolve(full.InitialIdea.Attachments[ai].Base64)
		}
	}

	return full, nil
}
