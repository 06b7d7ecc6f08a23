package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// LibraryIndexStore — small-value хранилище индекса библиотеки: один
// сериализованный облегченный список книг на владельца.
type LibraryIndexStore interface {
	SaveIndex(ctx context.Context, ownerID string, data []byte) error
	LoadIndex(ctx context.Context, ownerID string) ([]byte, error)
	ClearIndex(ctx context.Context, ownerID string) error
}

// LibraryStore связывает in-memory граф книг с двумя durable-хранилищами:
// индексом (книги без тяжелых пейлоадов) и blob-хранилищем ассетов.
// Транзакции между хранилищами нет: blob'ы пишутся ДО индекса, который
// на них ссылается, а осиротевшие blob'ы подбирает отложенный GC.
type LibraryStore struct {
	index     LibraryIndexStore
	sanitizer *Sanitizer
	logger    *zap.Logger
}

// NewLibraryStore создает слой персистентности библиотеки.
func NewLibraryStore(index LibraryIndexStore, sanitizer *Sanitizer, logger *zap.Logger) *LibraryStore {
	return &LibraryStore{
		index:     index,
		sanitizer: sanitizer,
		logger:    logger.Named("LibraryStore"),
	}
}

// LoadLibrary читает индекс владельца и гидрирует каждую книгу.
// Поврежденный индекс не валит приложение: он очищается, и пользователь
// получает пустую библиотеку.
func (ls *LibraryStore) LoadLibrary(ctx context.Context, ownerID string) ([]models.Book, error) {
	data, err := ls.index.LoadIndex(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса библиотеки: %w", err)
	}
	if len(data) == 0 {
		return []models.Book{}, nil
	}

	var lightweight []models.Book
	if err := json.Unmarshal(data, &lightweight); err != nil {
		ls.logger.Error("Library index is corrupted, clearing it",
			zap.String("ownerID", ownerID),
			zap.Error(err),
		)
		if clearErr := ls.index.ClearIndex(ctx, ownerID); clearErr != nil {
			ls.logger.Error("Failed to clear corrupted index", zap.String("ownerID", ownerID), zap.Error(clearErr))
		}
		return []models.Book{}, nil
	}

	books := make([]models.Book, 0, len(lightweight))
	for i := range lightweight {
		hydrated, err := ls.sanitizer.Hydrate(ctx, &lightweight[i])
		if err != nil {
			// Недоступное blob-хранилище не должно прятать книгу целиком:
			// отдаем облегченную версию, токены останутся на месте.
			ls.logger.Warn("Failed to hydrate book, returning lightweight copy",
				zap.String("bookID", lightweight[i].ID),
				zap.Error(err),
			)
			books = append(books, lightweight[i])
			continue
		}
		books = append(books, *hydrated)
	}
	return books, nil
}

// SaveLibrary санитизирует каждую книгу (blob'ы пишутся первыми) и
// сохраняет облегченный индекс одним сериализованным значением.
func (ls *LibraryStore) SaveLibrary(ctx context.Context, ownerID string, books []models.Book) error {
	lightweight := make([]models.Book, 0, len(books))
	for i := range books {
		light, err := ls.sanitizer.Sanitize(ctx, &books[i])
		if err != nil {
			return fmt.Errorf("ошибка санитизации книги %s: %w", books[i].ID, err)
		}
		lightweight = append(lightweight, *light)
	}

	data, err := json.Marshal(lightweight)
	if err != nil {
		return fmt.Errorf("ошибка сериализации библиотеки: %w", err)
	}
	if err := ls.index.SaveIndex(ctx, ownerID, data); err != nil {
		return fmt.Errorf("ошибка записи индекса библиотеки: %w", err)
	}
	ls.logger.Debug("Library saved",
		zap.String("ownerID", ownerID),
		zap.Int("books", len(books)),
		zap.Int("indexBytes", len(data)),
	)
	return nil
}
