package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

const (
	createUserQuery = `
        INSERT INTO users (id, username, password_hash, display_name, created_at)
        VALUES ($1, $2, $3, $4, NOW())
    `
	getUserByUsernameQuery = `SELECT id, username, password_hash, display_name, created_at FROM users WHERE username = $1`
	getUserByIDQuery       = `SELECT id, username, password_hash, display_name, created_at FROM users WHERE id = $1`
)

// UserRepository определяет хранилище учетных записей.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Compile-time check
var _ UserRepository = (*pgUserRepository)(nil)

type pgUserRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgUserRepository создает Postgres-реализацию UserRepository.
func NewPgUserRepository(db DBTX, logger *zap.Logger) UserRepository {
	return &pgUserRepository{
		db:     db,
		logger: logger.Named("PgUserRepo"),
	}
}

func (r *pgUserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.Exec(ctx, createUserQuery, user.ID, user.Username, user.PasswordHash, user.DisplayName)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 — unique_violation: имя пользователя уже занято.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrUserAlreadyExists
		}
		r.logger.Error("Failed to create user", zap.String("username", user.Username), zap.Error(err))
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	r.logger.Info("User created", zap.String("userID", user.ID.String()), zap.String("username", user.Username))
	return nil
}

func (r *pgUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := pgxscan.Get(ctx, r.db, &user, getUserByUsernameQuery, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		r.logger.Error("Failed to get user by username", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}
	return &user, nil
}

func (r *pgUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := pgxscan.Get(ctx, r.db, &user, getUserByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		r.logger.Error("Failed to get user by id", zap.String("userID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}
	return &user, nil
}
