package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/storage"
)

// LibraryIndexLister расширяет индекс библиотеки перечислением владельцев.
// Реализуется repository.pgLibraryIndexStore.
type LibraryIndexLister interface {
	storage.LibraryIndexStore
	ListOwners(ctx context.Context) ([]string, error)
}

// AssetGC собирает осиротевшие blob'ы: ассеты книг, на которые больше не
// ссылается ни один индекс библиотеки. Такие blob'ы появляются, когда
// запись индекса упала после записи blob'ов или книга удалена из индекса.
type AssetGC struct {
	index  LibraryIndexLister
	assets storage.AssetStore
	logger *zap.Logger
}

// NewAssetGC создает сборщик осиротевших ассетов.
func NewAssetGC(index LibraryIndexLister, assets storage.AssetStore, logger *zap.Logger) *AssetGC {
	return &AssetGC{
		index:  index,
		assets: assets,
		logger: logger.Named("AssetGC"),
	}
}

// errCorruptedIndex сигнализирует, что сверка неполна и sweep проводить
// нельзя: книги поврежденного индекса выглядели бы осиротевшими.
var errCorruptedIndex = errors.New("corrupted library index")

// referencedBookIDs собирает id всех книг, упомянутых хотя бы в одном
// индексе библиотеки.
func (gc *AssetGC) referencedBookIDs(ctx context.Context) (map[string]struct{}, error) {
	owners, err := gc.index.ListOwners(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{})
	for _, owner := range owners {
		data, err := gc.index.LoadIndex(ctx, owner)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		var books []models.Book
		if err := json.Unmarshal(data, &books); err != nil {
			gc.logger.Warn("Library index is corrupted, skipping sweep", zap.String("ownerID", owner), zap.Error(err))
			return nil, errCorruptedIndex
		}
		for i := range books {
			referenced[books[i].ID] = struct{}{}
		}
	}
	return referenced, nil
}

// Sweep удаляет ассеты книг, отсутствующих во всех индексах.
// Возвращает количество зачищенных книг.
func (gc *AssetGC) Sweep(ctx context.Context) (int, error) {
	referenced, err := gc.referencedBookIDs(ctx)
	if err != nil {
		if errors.Is(err, errCorruptedIndex) {
			// Лучше оставить мусор до следующего запуска, чем удалить
			// ассеты книг из нечитаемого индекса.
			return 0, nil
		}
		return 0, err
	}

	bookIDs, err := gc.assets.ListBookIDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, bookID := range bookIDs {
		if _, ok := referenced[bookID]; ok {
			continue
		}
		if err := gc.assets.DeleteBookAssets(ctx, bookID); err != nil {
			gc.logger.Error("Failed to delete orphaned assets", zap.String("bookID", bookID), zap.Error(err))
			continue
		}
		gc.logger.Info("Orphaned book assets removed", zap.String("bookID", bookID))
		removed++
	}
	return removed, nil
}

// Schedule запускает периодический запуск GC. interval == 0 отключает job.
func (gc *AssetGC) Schedule(interval time.Duration) (*gocron.Scheduler, error) {
	if interval == 0 {
		gc.logger.Info("Asset GC interval is 0, scheduled sweep is disabled")
		return nil, nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		removed, err := gc.Sweep(ctx)
		if err != nil {
			gc.logger.Error("Asset GC sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			gc.logger.Info("Asset GC sweep finished", zap.Int("removedBooks", removed))
		}
	})
	if err != nil {
		return nil, err
	}

	gc.logger.Info("Asset GC scheduled", zap.Duration("interval", interval))
	s.StartAsync()
	return s, nil
}
