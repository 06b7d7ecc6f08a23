package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storybook-server/internal/models"
	"storybook-server/internal/repository"
)

// Ограничения для валидации
const (
	MinUsernameLength    = 4
	MaxUsernameLength    = 32
	MinPasswordLength    = 6
	MaxPasswordLength    = 100
	MaxDisplayNameLength = 100
)

var (
	ErrInvalidUsernameLength = errors.New("длина имени пользователя должна быть от 4 до 32 символов")
	ErrInvalidPasswordLength = errors.New("длина пароля должна быть от 6 до 100 символов")
	ErrRevokedToken          = errors.New("отозванный токен")
)

// CustomClaims определяет структуру для наших JWT claims
type CustomClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenDetails содержит информацию о сгенерированных токенах
type TokenDetails struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Service предоставляет методы для работы с аутентификацией
type Service struct {
	users           repository.UserRepository
	tokens          repository.RefreshTokenRepository
	jwtSecret       []byte
	accessTokenTTL  time.Duration // Время жизни access token (короткое)
	refreshTokenTTL time.Duration // Время жизни refresh token (длинное)
	logger          *zap.Logger
}

// NewService создает новый экземпляр сервиса аутентификации
func NewService(users repository.UserRepository, tokens repository.RefreshTokenRepository, jwtSecret string, logger *zap.Logger) *Service {
	return &Service{
		users:           users,
		tokens:          tokens,
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  1 * time.Hour,      // По умолчанию 1 час для Access Token
		refreshTokenTTL: 7 * 24 * time.Hour, // По умолчанию 7 дней для Refresh Token
		logger:          logger.Named("AuthService"),
	}
}

// SetTokenTTL настраивает время жизни токенов.
func (s *Service) SetTokenTTL(accessTTL, refreshTTL time.Duration) {
	s.accessTokenTTL = accessTTL
	s.refreshTokenTTL = refreshTTL
}

// Генерация случайного токена для refresh token
func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Register регистрирует нового пользователя.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return nil, ErrInvalidUsernameLength
	}
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return nil, ErrInvalidPasswordLength
	}

	// Username храним в lowercase, displayName — как ввел пользователь.
	lowercaseUsername := strings.ToLower(username)

	_, err := s.users.GetByUsername(ctx, lowercaseUsername)
	if err == nil {
		return nil, models.ErrUserAlreadyExists
	} else if !errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("ошибка при проверке существования пользователя: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("ошибка при хешировании пароля: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     lowercaseUsername,
		DisplayName:  username,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	s.logger.Info("Пользователь зарегистрирован", zap.String("username", user.Username))
	return user, nil
}

// Login проверяет учетные данные и возвращает детали токенов
func (s *Service) Login(ctx context.Context, username, password string) (*TokenDetails, error) {
	user, err := s.users.GetByUsername(ctx, strings.ToLower(username))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			// Не раскрываем, что именно неверно
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("ошибка при поиске пользователя: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	return s.createTokens(ctx, user)
}

// createTokens генерирует пару токенов (access и refresh)
func (s *Service) createTokens(ctx context.Context, user *models.User) (*TokenDetails, error) {
	tokenDetails := &TokenDetails{
		UserID:      user.ID.String(),
		Username:    user.Username,
		DisplayName: user.DisplayName,
		ExpiresAt:   time.Now().Add(s.accessTokenTTL),
	}

	claims := CustomClaims{
		UserID:   user.ID.String(),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(tokenDetails.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.ID.String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	accessToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании токена доступа: %w", err)
	}
	tokenDetails.AccessToken = accessToken

	refreshToken, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("ошибка при генерации токена обновления: %w", err)
	}
	tokenDetails.RefreshToken = refreshToken

	refreshTokenObj := &models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(s.refreshTokenTTL),
		CreatedAt: time.Now(),
	}

	if err := s.tokens.Create(ctx, refreshTokenObj); err != nil {
		return nil, fmt.Errorf("ошибка при сохранении токена обновления: %w", err)
	}

	return tokenDetails, nil
}

// Refresh обновляет пару токенов по refresh token. Использованный токен
// отзывается (ротация).
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenDetails, error) {
	tokenObj, err := s.tokens.GetByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrTokenInvalid) {
			return nil, models.ErrTokenInvalid
		}
		return nil, fmt.Errorf("ошибка при поиске токена обновления: %w", err)
	}

	if tokenObj.Revoked {
		return nil, ErrRevokedToken
	}
	if tokenObj.ExpiresAt.Before(time.Now()) {
		return nil, models.ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, tokenObj.UserID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при поиске пользователя: %w", err)
	}

	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("ошибка при отзыве токена обновления: %w", err)
	}

	return s.createTokens(ctx, user)
}

// Logout отзывает все токены обновления пользователя.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.tokens.RevokeAllForUser(ctx, userID)
}

// ValidateAccessToken проверяет действительность токена доступа
func (s *Service) ValidateAccessToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверяем, что алгоритм подписи соответствует ожидаемому
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, models.ErrTokenInvalid
	}

	return claims, nil
}

// VerifyToken проверяет токен и возвращает id пользователя.
// Реализует ws.TokenVerifier.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// CleanupExpiredTokens удаляет просроченные токены обновления.
func (s *Service) CleanupExpiredTokens(ctx context.Context) error {
	return s.tokens.DeleteExpired(ctx)
}
