package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storybook-server/internal/jobs"
	"storybook-server/internal/models"
	"storybook-server/internal/repository"
	"storybook-server/internal/storage"
	"storybook-server/migrations"
)

// LibraryIntegrationSuite гоняет слой персистентности библиотеки против
// настоящих PostgreSQL и Redis в контейнерах: индекс в jsonb, ассеты в хэшах.
type LibraryIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *tcpostgres.PostgresContainer
	rdContainer *tcredis.RedisContainer
	pgPool      *pgxpool.Pool
	redisClient *redis.Client
	logger      *zap.Logger

	assets  storage.AssetStore
	library *storage.LibraryStore
}

func (s *LibraryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err, "Failed to create logger for tests")

	s.pgContainer, err = tcpostgres.Run(s.ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("test_db"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	pgConnStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get postgres connection string")

	s.pgPool, err = pgxpool.New(s.ctx, pgConnStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	require.NoError(s.T(), s.runMigrations(pgConnStr), "Failed to run migrations")

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	redisHost, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err)
	redisPort, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err)

	s.redisClient = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	_, err = s.redisClient.Ping(s.ctx).Result()
	require.NoError(s.T(), err, "Failed to connect to test redis")

	index := repository.NewPgLibraryIndexStore(s.pgPool, s.logger)
	s.assets = storage.NewRedisAssetStore(s.redisClient, s.logger)
	s.library = storage.NewLibraryStore(index, storage.NewSanitizer(s.assets, s.logger), s.logger)
}

func (s *LibraryIntegrationSuite) TearDownSuite() {
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if s.pgContainer != nil {
		if err := s.pgContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate postgres container", zap.Error(err))
		}
	}
	if s.rdContainer != nil {
		if err := s.rdContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate redis container", zap.Error(err))
		}
	}
}

// Каждый тест начинает с чистых хранилищ.
func (s *LibraryIntegrationSuite) SetupTest() {
	require.NoError(s.T(), s.redisClient.FlushDB(s.ctx).Err(), "Failed to flush Redis DB")
	_, err := s.pgPool.Exec(s.ctx, "TRUNCATE TABLE libraries")
	require.NoError(s.T(), err, "Failed to truncate libraries table")
}

func (s *LibraryIntegrationSuite) runMigrations(dbURL string) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func TestLibraryIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(LibraryIntegrationSuite))
}

const inlinePNG = "data:image/png;base64,aGVhdnktcGF5bG9hZA=="

func testBook(id string) models.Book {
	return models.Book{
		ID:            id,
		Title:         "Felix and the Moon",
		CreationDate:  "2026-09-01",
		Age:           6,
		Style:         "watercolor",
		Author:        "Alice",
		CoverImageURL: inlinePNG,
		Pages: []models.Page{
			{
				ID: "p1",
				Revisions: []models.Revision{
					{Text: "Felix found a silver map.", ImageURL: inlinePNG, AudioURL: "data:audio/mp3;base64,c291bmQ="},
				},
			},
		},
		InitialIdea: &models.InitialIdea{
			Text: "a fox who wants to visit the moon",
			Attachments: []models.MediaAttachment{
				{ID: "att-1", Type: "image", Base64: inlinePNG, MimeType: "image/png"},
			},
		},
	}
}

// Сохраненная книга возвращается с теми же inline-медиа, а в jsonb-индексе
// при этом лежат только ссылочные токены.
func (s *LibraryIntegrationSuite) TestSaveAndLoadRoundTrip() {
	t := s.T()
	book := testBook("book-1")

	require.NoError(t, s.library.SaveLibrary(s.ctx, "alice", []models.Book{book}))

	var rawIndex []byte
	err := s.pgPool.QueryRow(s.ctx, "SELECT data FROM libraries WHERE owner_id = $1", "alice").Scan(&rawIndex)
	require.NoError(t, err)
	require.NotContains(t, string(rawIndex), "base64,aGVhdnktcGF5bG9hZA",
		"index must not contain inline payloads")
	require.Contains(t, string(rawIndex), storage.AssetTokenPrefix)

	books, err := s.library.LoadLibrary(s.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, books, 1)

	loaded := books[0]
	require.Equal(t, book.Title, loaded.Title)
	require.Equal(t, inlinePNG, loaded.CoverImageURL)
	require.Equal(t, inlinePNG, loaded.Pages[0].Revisions[0].ImageURL)
	require.Equal(t, "data:audio/mp3;base64,c291bmQ=", loaded.Pages[0].Revisions[0].AudioURL)
	require.NotNil(t, loaded.InitialIdea)
	require.Equal(t, inlinePNG, loaded.InitialIdea.Attachments[0].Base64)
}

func (s *LibraryIntegrationSuite) TestEmptyLibraryForUnknownOwner() {
	books, err := s.library.LoadLibrary(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Require().Empty(books)
}

// Поврежденный jsonb-индекс очищается при первом чтении, а не роняет запрос.
func (s *LibraryIntegrationSuite) TestCorruptedIndexIsCleared() {
	t := s.T()
	_, err := s.pgPool.Exec(s.ctx,
		"INSERT INTO libraries (owner_id, data) VALUES ($1, $2)", "bob", []byte(`"not-a-book-list"`))
	require.NoError(t, err)

	books, err := s.library.LoadLibrary(s.ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, books)

	var count int
	require.NoError(t, s.pgPool.QueryRow(s.ctx,
		"SELECT COUNT(*) FROM libraries WHERE owner_id = $1", "bob").Scan(&count))
	require.Zero(t, count, "corrupted index should be cleared")
}

// Повторное сохранение перезаписывает единственную строку владельца.
func (s *LibraryIntegrationSuite) TestResaveKeepsSingleRow() {
	t := s.T()
	require.NoError(t, s.library.SaveLibrary(s.ctx, "alice", []models.Book{testBook("book-1")}))

	second := testBook("book-2")
	second.Title = "Felix Returns"
	require.NoError(t, s.library.SaveLibrary(s.ctx, "alice", []models.Book{testBook("book-1"), second}))

	var count int
	require.NoError(t, s.pgPool.QueryRow(s.ctx, "SELECT COUNT(*) FROM libraries").Scan(&count))
	require.Equal(t, 1, count)

	books, err := s.library.LoadLibrary(s.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, books, 2)
}

// GC против настоящих хранилищ: ассеты без книги в индексе удаляются,
// ассеты сохраненных книг переживают сборку.
func (s *LibraryIntegrationSuite) TestAssetGCSweepAgainstRealStores() {
	t := s.T()
	index := repository.NewPgLibraryIndexStore(s.pgPool, s.logger)
	require.NoError(t, s.library.SaveLibrary(s.ctx, "alice", []models.Book{testBook("book-1")}))

	// Осиротевший ассет: книги book-orphan нет ни в одном индексе.
	require.NoError(t, s.assets.SaveAsset(s.ctx, "book-orphan", "book-orphan-cover", inlinePNG))

	gc := jobs.NewAssetGC(index, s.assets, s.logger)
	removed, err := gc.Sweep(s.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	ids, err := s.assets.ListBookIDs(s.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"book-1"}, ids)

	books, err := s.library.LoadLibrary(s.ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, inlinePNG, books[0].CoverImageURL)
}
