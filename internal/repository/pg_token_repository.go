package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

const (
	createRefreshTokenQuery = `
        INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked)
        VALUES ($1, $2, $3, $4, NOW(), FALSE)
    `
	getRefreshTokenQuery    = `SELECT id, user_id, token, expires_at, created_at, revoked FROM refresh_tokens WHERE token = $1`
	revokeRefreshTokenQuery = `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`
	revokeUserTokensQuery   = `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`
	deleteExpiredQuery      = `DELETE FROM refresh_tokens WHERE expires_at < NOW()`
)

// RefreshTokenRepository определяет хранилище токенов обновления.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) error
}

// Compile-time check
var _ RefreshTokenRepository = (*pgRefreshTokenRepository)(nil)

type pgRefreshTokenRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgRefreshTokenRepository создает Postgres-реализацию RefreshTokenRepository.
func NewPgRefreshTokenRepository(db DBTX, logger *zap.Logger) RefreshTokenRepository {
	return &pgRefreshTokenRepository{
		db:     db,
		logger: logger.Named("PgTokenRepo"),
	}
}

func (r *pgRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	_, err := r.db.Exec(ctx, createRefreshTokenQuery, token.ID, token.UserID, token.Token, token.ExpiresAt)
	if err != nil {
		r.logger.Error("Failed to create refresh token", zap.String("userID", token.UserID.String()), zap.Error(err))
		return fmt.Errorf("ошибка сохранения токена обновления: %w", err)
	}
	return nil
}

func (r *pgRefreshTokenRepository) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := pgxscan.Get(ctx, r.db, &rt, getRefreshTokenQuery, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTokenInvalid
		}
		r.logger.Error("Failed to get refresh token", zap.Error(err))
		return nil, fmt.Errorf("ошибка поиска токена обновления: %w", err)
	}
	return &rt, nil
}

func (r *pgRefreshTokenRepository) Revoke(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, revokeRefreshTokenQuery, token)
	if err != nil {
		r.logger.Error("Failed to revoke refresh token", zap.Error(err))
		return fmt.Errorf("ошибка отзыва токена обновления: %w", err)
	}
	return nil
}

func (r *pgRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, revokeUserTokensQuery, userID)
	if err != nil {
		r.logger.Error("Failed to revoke user tokens", zap.String("userID", userID.String()), zap.Error(err))
		return fmt.Errorf("ошибка отзыва токенов пользователя: %w", err)
	}
	return nil
}

func (r *pgRefreshTokenRepository) DeleteExpired(ctx context.Context) error {
	tag, err := r.db.Exec(ctx, deleteExpiredQuery)
	if err != nil {
		r.logger.Error("Failed to delete expired tokens", zap.Error(err))
		return fmt.Errorf("ошибка удаления просроченных токенов: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("Expired refresh tokens deleted", zap.Int64("count", tag.RowsAffected()))
	}
	return nil
}
