package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// Client представляет собой одно WebSocket соединение с идентификатором пользователя.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	send   chan []byte // Канал для отправки сообщений этому клиенту
}

// Envelope — обертка всех исходящих сообщений. Клиент различает их по Type.
type Envelope struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// ConnectionManager управляет активными WebSocket соединениями.
// Реализует session.Notifier и taskmanager.WebSocketNotifier.
type ConnectionManager struct {
	clients    map[string]*Client // Карта userID -> Client
	register   chan *Client       // Канал для регистрации нового клиента
	unregister chan string        // Канал для удаления клиента (по userID)
	mu         sync.RWMutex       // Мьютекс для защиты доступа к clients
	logger     *zap.Logger
}

// NewConnectionManager создает и запускает новый менеджер соединений.
func NewConnectionManager(logger *zap.Logger) *ConnectionManager {
	m := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan string),
		logger:     logger.Named("ConnectionManager"),
	}
	go m.run() // Запускаем цикл управления в отдельной горутине
	return m
}

// run запускает основной цикл менеджера для обработки регистрации/дерегистрации.
func (m *ConnectionManager) run() {
	m.logger.Info("ConnectionManager запущен")
	for {
		select {
		case client := <-m.register:
			m.logger.Info("Регистрация клиента", zap.String("userID", client.UserID))
			m.mu.Lock()
			// Если клиент с таким UserID уже есть, закрываем старое соединение
			if oldClient, ok := m.clients[client.UserID]; ok {
				m.logger.Info("Закрытие старого соединения", zap.String("userID", client.UserID))
				close(oldClient.send)
				_ = oldClient.Conn.Close()
			}
			m.clients[client.UserID] = client
			m.mu.Unlock()

		case userID := <-m.unregister:
			m.mu.Lock()
			if client, ok := m.clients[userID]; ok {
				m.logger.Info("Дерегистрация клиента", zap.String("userID", userID))
				delete(m.clients, userID)
				close(client.send)
				// Соединение закрывается в readPump/writePump клиента
			}
			m.mu.Unlock()
		}
	}
}

// RegisterClient регистрирует нового клиента.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient удаляет клиента.
func (m *ConnectionManager) UnregisterClient(userID string) {
	m.unregister <- userID
}

// sendRaw отправляет готовое сообщение конкретному пользователю.
// Возвращает true, если пользователь онлайн и сообщение ушло в очередь.
func (m *ConnectionManager) sendRaw(userID string, message []byte) bool {
	m.mu.RLock()
	client, ok := m.clients[userID]
	m.mu.RUnlock()

	if !ok {
		m.logger.Debug("Пользователь оффлайн, сообщение пропущено", zap.String("userID", userID))
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		// Канал переполнен или закрыт (клиент отключается)
		m.logger.Warn("Очередь отправки переполнена, сообщение потеряно", zap.String("userID", userID))
		return false
	}
}

// SendToUser сериализует payload в конверт и отправляет пользователю.
func (m *ConnectionManager) SendToUser(userID, messageType, topic string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: messageType, Topic: topic, Payload: payload})
	if err != nil {
		m.logger.Error("Ошибка сериализации сообщения",
			zap.String("userID", userID),
			zap.String("messageType", messageType),
			zap.Error(err),
		)
		return
	}
	m.sendRaw(userID, data)
}

// Broadcast отправляет сообщение всем подключенным клиентам.
func (m *ConnectionManager) Broadcast(messageType, topic string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: messageType, Topic: topic, Payload: payload})
	if err != nil {
		m.logger.Error("Ошибка сериализации broadcast-сообщения", zap.Error(err))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, client := range m.clients {
		select {
		case client.send <- data:
		default:
			m.logger.Warn("Очередь отправки переполнена при broadcast", zap.String("userID", client.UserID))
		}
	}
}

// SessionUpdated пушит новое состояние сессии пользователю после каждого
// действия. Клиент заменяет свое состояние целиком.
func (m *ConnectionManager) SessionUpdated(userID string, state models.SessionState) {
	m.SendToUser(userID, "session_state", "wizard", state)
}
