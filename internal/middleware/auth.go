package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/auth"
	"storybook-server/internal/models"
)

// Ключи контекста Gin, устанавливаемые Auth middleware.
const (
	UserIDKey   = "userID"
	UsernameKey = "username"
)

// TokenValidator проверяет access token и возвращает claims.
// Реализуется auth.Service.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*auth.CustomClaims, error)
}

// Auth создает middleware для проверки JWT из заголовка Authorization.
// UserID и Username кладутся в контекст Gin.
func Auth(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("Authorization header missing", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			log.Warn("Malformed Authorization header", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed token header"})
			return
		}

		claims, err := validator.ValidateAccessToken(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, models.ErrTokenExpired) {
				msg = "token expired"
			}
			log.Warn("Token verification failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// UserID достает id аутентифицированного пользователя из контекста Gin.
func UserID(c *gin.Context) (string, bool) {
	userID, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}
