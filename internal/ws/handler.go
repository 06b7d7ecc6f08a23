package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: Добавить проверку Origin для безопасности
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenVerifier проверяет токен доступа и возвращает id пользователя.
type TokenVerifier interface {
	VerifyToken(tokenString string) (string, error)
}

// Handler обрабатывает запросы на установку WebSocket соединения.
type Handler struct {
	manager  *ConnectionManager
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewHandler создает новый обработчик WebSocket.
func NewHandler(manager *ConnectionManager, verifier TokenVerifier, logger *zap.Logger) *Handler {
	return &Handler{
		manager:  manager,
		verifier: verifier,
		logger:   logger.Named("WSHandler"),
	}
}

// ServeWS обрабатывает входящий HTTP запрос для WebSocket. Браузерный
// WebSocket API не позволяет ставить заголовки, поэтому токен приходит
// query-параметром.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		h.logger.Warn("Отсутствует query-параметр 'token'")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := h.verifier.VerifyToken(tokenString)
	if err != nil {
		h.logger.Warn("Невалидный токен", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже ответил клиенту сам
		h.logger.Error("Не удалось обновить соединение до WebSocket",
			zap.String("userID", userID),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("WebSocket соединение установлено", zap.String("userID", userID))

	client := &Client{
		UserID: userID,
		Conn:   conn,
		send:   make(chan []byte, 256), // Буферизованный канал для отправки
	}

	h.manager.RegisterClient(client)

	// Запускаем горутины для чтения и записи в этом соединении
	go client.writePump(h.logger.With(zap.String("userID", userID)))
	go client.readPump(h.manager, h.logger.With(zap.String("userID", userID)))
}

// readPump откачивает сообщения от WebSocket соединения. Клиент ничего
// не должен присылать: все действия идут через HTTP API.
func (c *Client) readPump(manager *ConnectionManager, logger *zap.Logger) {
	defer func() {
		manager.UnregisterClient(c.UserID)
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Ошибка чтения WebSocket", zap.Error(err))
			}
			break
		}
		logger.Warn("Получено неожиданное сообщение от клиента (игнорируется)", zap.ByteString("message", message))
	}
}

// writePump откачивает сообщения из канала send в WebSocket соединение.
func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error("Ошибка отправки сообщения", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn("Не удалось отправить ping", zap.Error(err))
				return
			}
		}
	}
}
