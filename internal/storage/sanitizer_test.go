package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/models"
	"storybook-server/internal/storage"
)

// fakeAssetStore — in-memory реализация AssetStore для тестов.
type fakeAssetStore struct {
	assets  map[string]map[string]string // bookID -> key -> data
	saveErr error
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{assets: make(map[string]map[string]string)}
}

func (f *fakeAssetStore) SaveAsset(_ context.Context, bookID, key, data string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.assets[bookID] == nil {
		f.assets[bookID] = make(map[string]string)
	}
	f.assets[bookID][key] = data
	return nil
}

func (f *fakeAssetStore) GetAssetsForBook(_ context.Context, bookID string) (map[string]string, error) {
	out := make(map[string]string, len(f.assets[bookID]))
	for k, v := range f.assets[bookID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAssetStore) DeleteBookAssets(_ context.Context, bookID string) error {
	delete(f.assets, bookID)
	return nil
}

func (f *fakeAssetStore) ListBookIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.assets))
	for id := range f.assets {
		ids = append(ids, id)
	}
	return ids, nil
}

func mediaBook() *models.Book {
	return &models.Book{
		ID:            "2025-03-01T00:00:00Z",
		Title:         "The Brave Fox",
		CoverImageURL: "data:image/png;base64,Y292ZXItcGF5bG9hZA==",
		Pages: []models.Page{
			{
				ID: "page-1",
				Revisions: []models.Revision{
					{Text: "v1", ImageURL: "data:image/png;base64,cmV2MA==", Type: models.RevisionInitial},
					{Text: "v2", ImageURL: "data:image/png;base64,cmV2MQ==", Type: models.RevisionText, AudioURL: "data:audio/mp3;base64,YXVkaW8="},
				},
				CurrentRevisionIndex: 1,
				VideoURL:             "data:video/mp4;base64,dmlkZW8=",
			},
		},
		InitialIdea: &models.InitialIdea{
			Text: "a brave fox",
			Attachments: []models.MediaAttachment{
				{ID: "att-1", Type: "image", Source: models.SourceDrawing, Base64: "ZHJhd2luZw==", MimeType: "image/png"},
			},
		},
	}
}

func newSanitizer(store storage.AssetStore) *storage.Sanitizer {
	return storage.NewSanitizer(store, zap.NewNop())
}

func TestSanitize_ExternalizesAllInlineMedia(t *testing.T) {
	ctx := context.Background()
	store := newFakeAssetStore()
	s := newSanitizer(store)
	book := mediaBook()

	light, err := s.Sanitize(ctx, book)
	require.NoError(t, err)

	// Все тяжелые поля заменены токенами.
	assert.True(t, storage.IsAssetToken(light.CoverImageURL))
	assert.True(t, storage.IsAssetToken(light.Pages[0].Revisions[0].ImageURL))
	assert.True(t, storage.IsAssetToken(light.Pages[0].Revisions[1].ImageURL))
	assert.True(t, storage.IsAssetToken(light.Pages[0].Revisions[1].AudioURL))
	assert.True(t, storage.IsAssetToken(light.Pages[0].VideoURL))
	assert.True(t, storage.IsAssetToken(light.InitialIdea.Attachments[0].Base64))

	// Индексное представление не содержит inline-пейлоадов вообще.
	raw, err := json.Marshal(light)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "data:image")
	assert.NotContains(t, string(raw), "data:video")
	assert.NotContains(t, string(raw), "data:audio")

	// Blob-хранилище — единственный владелец пейлоадов.
	assets := store.assets[book.ID]
	assert.Len(t, assets, 6)
	assert.Equal(t, "data:image/png;base64,Y292ZXItcGF5bG9hZA==", assets[book.ID+"-cover"])
}

func TestSanitize_DoesNotMutateCaller(t *testing.T) {
	ctx := context.Background()
	s := newSanitizer(newFakeAssetStore())
	book := mediaBook()
	coverBefore := book.CoverImageURL

	_, err := s.Sanitize(ctx, book)
	require.NoError(t, err)

	assert.Equal(t, coverBefore, book.CoverImageURL)
	assert.True(t, strings.HasPrefix(book.Pages[0].Revisions[0].ImageURL, "data:"))
	assert.Equal(t, "ZHJhd2luZw==", book.InitialIdea.Attachments[0].Base64)
}

// Круговой проход: hydrate(sanitize(b)) восстанавливает каждый inline-пейлоад
// бит в бит.
func TestSanitizeHydrate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSanitizer(newFakeAssetStore())
	book := mediaBook()

	light, err := s.Sanitize(ctx, book)
	require.NoError(t, err)
	full, err := s.Hydrate(ctx, light)
	require.NoError(t, err)

	assert.Equal(t, book, full)
}

// Санитизация уже облегченной книги идемпотентна: форма токенов не меняется.
func TestSanitize_IdempotentOnLightweightBook(t *testing.T) {
	ctx := context.Background()
	s := newSanitizer(newFakeAssetStore())
	book := mediaBook()

	light1, err := s.Sanitize(ctx, book)
	require.NoError(t, err)

	full, err := s.Hydrate(ctx, light1)
	require.NoError(t, err)
	light2, err := s.Sanitize(ctx, full)
	require.NoError(t, err)

	assert.Equal(t, light1, light2)

	// И повторная санитизация самого облегченного представления — no-op.
	light3, err := s.Sanitize(ctx, light1)
	require.NoError(t, err)
	assert.Equal(t, light1, light3)
}

// Токен без ассета остается на месте: это потерянный ассет, а не краш.
func TestHydrate_MissingAssetLeavesToken(t *testing.T) {
	ctx := context.Background()
	store := newFakeAssetStore()
	s := newSanitizer(store)
	book := mediaBook()

	light, err := s.Sanitize(ctx, book)
	require.NoError(t, err)

	// Ассеты "собраны сборщиком мусора".
	require.NoError(t, store.DeleteBookAssets(ctx, book.ID))

	full, err := s.Hydrate(ctx, light)
	require.NoError(t, err)
	assert.Equal(t, light.CoverImageURL, full.CoverImageURL)
	assert.True(t, storage.IsAssetToken(full.CoverImageURL))
}

func TestSanitize_AbortsOnBlobWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeAssetStore()
	store.saveErr = errors.New("redis down")
	s := newSanitizer(store)

	_, err := s.Sanitize(ctx, mediaBook())
	assert.Error(t, err)
}
