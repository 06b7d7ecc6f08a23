package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storybook-server/internal/storage"
)

const (
	upsertLibraryIndexQuery = `
        INSERT INTO libraries (owner_id, data, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (owner_id) DO UPDATE SET
            data = EXCLUDED.data,
            updated_at = NOW()
    `
	getLibraryIndexQuery    = `SELECT data FROM libraries WHERE owner_id = $1`
	deleteLibraryIndexQuery = `DELETE FROM libraries WHERE owner_id = $1`
	listLibraryOwnersQuery  = `SELECT owner_id FROM libraries`
)

// Compile-time check
var _ storage.LibraryIndexStore = (*pgLibraryIndexStore)(nil)

// pgLibraryIndexStore хранит индекс библиотеки каждого владельца одной
// jsonb-строкой: облегченное представление книг без тяжелых пейлоадов.
type pgLibraryIndexStore struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgLibraryIndexStore создает Postgres-реализацию индекса библиотеки.
func NewPgLibraryIndexStore(db DBTX, logger *zap.Logger) *pgLibraryIndexStore {
	return &pgLibraryIndexStore{
		db:     db,
		logger: logger.Named("PgLibraryIndexStore"),
	}
}

func (r *pgLibraryIndexStore) SaveIndex(ctx context.Context, ownerID string, data []byte) error {
	logFields := []zap.Field{zap.String("ownerID", ownerID), zap.Int("bytes", len(data))}
	r.logger.Debug("Saving library index", logFields...)

	if _, err := r.db.Exec(ctx, upsertLibraryIndexQuery, ownerID, data); err != nil {
		r.logger.Error("Failed to save library index", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка сохранения индекса библиотеки: %w", err)
	}
	return nil
}

func (r *pgLibraryIndexStore) LoadIndex(ctx context.Context, ownerID string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(ctx, getLibraryIndexQuery, ownerID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Отсутствие индекса — не ошибка: библиотека еще не создавалась.
			return nil, nil
		}
		r.logger.Error("Failed to load library index", zap.String("ownerID", ownerID), zap.Error(err))
		return nil, fmt.Errorf("ошибка чтения индекса библиотеки: %w", err)
	}
	return data, nil
}

func (r *pgLibraryIndexStore) ClearIndex(ctx context.Context, ownerID string) error {
	if _, err := r.db.Exec(ctx, deleteLibraryIndexQuery, ownerID); err != nil {
		r.logger.Error("Failed to clear library index", zap.String("ownerID", ownerID), zap.Error(err))
		return fmt.Errorf("ошибка очистки индекса библиотеки: %w", err)
	}
	r.logger.Info("Library index cleared", zap.String("ownerID", ownerID))
	return nil
}

// ListOwners возвращает всех владельцев библиотек. Используется GC
// осиротевших ассетов для сверки индексов с blob-хранилищем.
func (r *pgLibraryIndexStore) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, listLibraryOwnersQuery)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения владельцев библиотек: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("ошибка чтения owner_id: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}
