package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AssetStore — blob-хранилище тяжелых медиа-пейлоадов, адресуемых
// составным ключом и сгруппированных по id книги (для массовой очистки).
type AssetStore interface {
	// SaveAsset сохраняет пейлоад под составным ключом.
	SaveAsset(ctx context.Context, bookID, key, data string) error
	// GetAssetsForBook возвращает все ассеты книги как map ключ -> пейлоад.
	GetAssetsForBook(ctx context.Context, bookID string) (map[string]string, error)
	// DeleteBookAssets удаляет все ассеты книги.
	DeleteBookAssets(ctx context.Context, bookID string) error
	// ListBookIDs возвращает id всех книг, для которых есть ассеты.
	ListBookIDs(ctx context.Context) ([]string, error)
}

const bookAssetsKeyPrefix = "book_assets:"

// Compile-time check
var _ AssetStore = (*redisAssetStore)(nil)

// redisAssetStore хранит ассеты каждой книги в одном Redis-хэше:
// book_assets:{bookID} -> { составной ключ -> data URL }.
type redisAssetStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisAssetStore создает blob-хранилище ассетов поверх Redis.
func NewRedisAssetStore(client *redis.Client, logger *zap.Logger) AssetStore {
	return &redisAssetStore{
		client: client,
		logger: logger.Named("RedisAssetStore"),
	}
}

func bookAssetsKey(bookID string) string {
	return bookAssetsKeyPrefix + bookID
}

func (s *redisAssetStore) SaveAsset(ctx context.Context, bookID, key, data string) error {
	if err := s.client.HSet(ctx, bookAssetsKey(bookID), key, data).Err(); err != nil {
		s.logger.Error("Failed to save asset",
			zap.String("bookID", bookID),
			zap.String("assetKey", key),
			zap.Error(err),
		)
		return fmt.Errorf("ошибка сохранения ассета %s: %w", key, err)
	}
	s.logger.Debug("Asset saved",
		zap.String("bookID", bookID),
		zap.String("assetKey", key),
		zap.Int("size", len(data)),
	)
	return nil
}

func (s *redisAssetStore) GetAssetsForBook(ctx context.Context, bookID string) (map[string]string, error) {
	assets, err := s.client.HGetAll(ctx, bookAssetsKey(bookID)).Result()
	if err != nil {
		s.logger.Error("Failed to load assets for book", zap.String("bookID", bookID), zap.Error(err))
		return nil, fmt.Errorf("ошибка чтения ассетов книги %s: %w", bookID, err)
	}
	return assets, nil
}

func (s *redisAssetStore) DeleteBookAssets(ctx context.Context, bookID string) error {
	if err := s.client.Del(ctx, bookAssetsKey(bookID)).Err(); err != nil {
		s.logger.Error("Failed to delete assets for book", zap.String("bookID", bookID), zap.Error(err))
		return fmt.Errorf("ошибка удаления ассетов книги %s: %w", bookID, err)
	}
	s.logger.Info("Assets deleted for book", zap.String("bookID", bookID))
	return nil
}

// ListBookIDs обходит ключи через SCAN, чтобы не блокировать Redis
// на больших инсталляциях.
func (s *redisAssetStore) ListBookIDs(ctx context.Context) ([]string, error) {
	var bookIDs []string
	iter := s.client.Scan(ctx, 0, bookAssetsKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		bookIDs = append(bookIDs, strings.TrimPrefix(iter.Val(), bookAssetsKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		s.logger.Error("Failed to scan asset keys", zap.Error(err))
		return nil, fmt.Errorf("ошибка сканирования ключей ассетов: %w", err)
	}
	return bookIDs, nil
}
