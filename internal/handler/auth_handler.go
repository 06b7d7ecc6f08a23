package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/auth"
	"storybook-server/internal/middleware"
	"storybook-server/internal/models"
)

// AuthHandler обрабатывает HTTP запросы аутентификации.
type AuthHandler struct {
	authService *auth.Service
	logger      *zap.Logger
}

// NewAuthHandler создает новый AuthHandler.
func NewAuthHandler(authService *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger.Named("AuthHandler"),
	}
}

// RegisterRoutes регистрирует маршруты аутентификации.
func (h *AuthHandler) RegisterRoutes(router *gin.Engine) {
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.POST("/refresh", h.refresh)
		authGroup.POST("/logout", middleware.Auth(h.authService, h.logger), h.logout)
	}
}

func (h *AuthHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserAlreadyExists):
			c.JSON(http.StatusConflict, APIError{Message: "username is already taken"})
		case errors.Is(err, auth.ErrInvalidUsernameLength), errors.Is(err, auth.ErrInvalidPasswordLength):
			c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
		default:
			h.logger.Error("Ошибка регистрации", zap.Error(err))
			c.JSON(http.StatusInternalServerError, APIError{Message: "registration failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
	})
}

func (h *AuthHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	details, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, APIError{Message: "invalid username or password"})
			return
		}
		h.logger.Error("Ошибка логина", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "login failed"})
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body"})
		return
	}

	details, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenInvalid),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, auth.ErrRevokedToken):
			c.JSON(http.StatusUnauthorized, APIError{Message: "invalid refresh token"})
		default:
			h.logger.Error("Ошибка обновления токенов", zap.Error(err))
			c.JSON(http.StatusInternalServerError, APIError{Message: "token refresh failed"})
		}
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *AuthHandler) logout(c *gin.Context) {
	userIDStr, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, APIError{Message: "Unauthorized"})
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, APIError{Message: "Unauthorized"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), userID); err != nil {
		h.logger.Error("Ошибка логаута", zap.String("userID", userIDStr), zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
