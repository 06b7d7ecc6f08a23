package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/storage"
)

// fakeIndexStore — in-memory реализация LibraryIndexStore.
type fakeIndexStore struct {
	indexes map[string][]byte
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{indexes: make(map[string][]byte)}
}

func (f *fakeIndexStore) SaveIndex(_ context.Context, ownerID string, data []byte) error {
	f.indexes[ownerID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeIndexStore) LoadIndex(_ context.Context, ownerID string) ([]byte, error) {
	return f.indexes[ownerID], nil
}

func (f *fakeIndexStore) ClearIndex(_ context.Context, ownerID string) error {
	delete(f.indexes, ownerID)
	return nil
}

func newLibraryStore(index storage.LibraryIndexStore, assets storage.AssetStore) *storage.LibraryStore {
	return storage.NewLibraryStore(index, storage.NewSanitizer(assets, zap.NewNop()), zap.NewNop())
}

func TestLibraryStore_SaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndexStore()
	assets := newFakeAssetStore()
	ls := newLibraryStore(index, assets)

	books := []models.Book{*mediaBook()}
	require.NoError(t, ls.SaveLibrary(ctx, "owner-1", books))

	// Индекс не содержит тяжелых inline-строк.
	assert.NotContains(t, string(index.indexes["owner-1"]), "data:image")

	loaded, err := ls.LoadLibrary(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, books[0], loaded[0])
}

func TestLibraryStore_EmptyIndexYieldsEmptyLibrary(t *testing.T) {
	ctx := context.Background()
	ls := newLibraryStore(newFakeIndexStore(), newFakeAssetStore())

	books, err := ls.LoadLibrary(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, books)
}

// Поврежденный индекс очищается, приложение продолжает жить с пустой
// библиотекой.
func TestLibraryStore_CorruptedIndexIsCleared(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndexStore()
	index.indexes["owner-1"] = []byte("{not json[")
	ls := newLibraryStore(index, newFakeAssetStore())

	books, err := ls.LoadLibrary(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, books)
	assert.NotContains(t, index.indexes, "owner-1")
}
