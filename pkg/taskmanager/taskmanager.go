package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ITaskTracker определяет интерфейс для отслеживания задач генерации.
// Задачи регистрируются под внешним id (id генерации из состояния сессии),
// так что отмена и поллинг статуса работают по тому же ключу, по которому
// редьюсер отбрасывает устаревшие результаты.
type ITaskTracker interface {
	StartTask(ctx context.Context, taskID uuid.UUID, ownerID string, taskType string) (context.Context, error)
	SetProgress(taskID uuid.UUID, progress int, message string)
	CompleteTask(taskID uuid.UUID, message string)
	FailTask(taskID uuid.UUID, message string)
	CancelTask(taskID uuid.UUID) error
	GetTask(taskID uuid.UUID) (*Task, error)
	TasksForOwner(ownerID string) []*Task
	CleanupTasks(age time.Duration)
	SetWebSocketNotifier(notifier WebSocketNotifier)
	Close()
	Shutdown(ctx context.Context) error
}

// WebSocketNotifier интерфейс для отправки уведомлений через WebSocket
type WebSocketNotifier interface {
	SendToUser(userID, messageType, topic string, payload interface{})
	Broadcast(messageType, topic string, payload interface{})
}

// Task представляет асинхронную задачу генерации
type Task struct {
	ID        uuid.UUID
	OwnerID   string
	Type      string
	Status    TaskStatus
	Progress  int
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
	cancel    context.CancelFunc
}

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач
const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskTracker отслеживает выполняющиеся задачи генерации
type TaskTracker struct {
	tasks      map[uuid.UUID]*Task
	mu         sync.RWMutex
	maxTasks   int
	closing    chan struct{}
	wsNotifier WebSocketNotifier
}

var _ ITaskTracker = (*TaskTracker)(nil)

// Config содержит конфигурацию для TaskTracker
type Config struct {
	MaxTasks int
}

// New создает новый экземпляр TaskTracker
func New(cfg Config) (*TaskTracker, error) {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}

	return &TaskTracker{
		tasks:    make(map[uuid.UUID]*Task),
		maxTasks: maxTasks,
		closing:  make(chan struct{}),
	}, nil
}

// NewTracker создает новый экземпляр TaskTracker с настройками по умолчанию
func NewTracker() *TaskTracker {
	tracker, _ := New(Config{MaxTasks: 10})
	return tracker
}

// StartTask регистрирует задачу под внешним id и возвращает контекст,
// под которым исполнитель должен вести генерацию: CancelTask отменит
// именно этот контекст.
func (tm *TaskTracker) StartTask(ctx context.Context, taskID uuid.UUID, ownerID string, taskType string) (context.Context, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	select {
	case <-tm.closing:
		return nil, errors.New("трекер задач останавливается")
	default:
	}

	if existing, ok := tm.tasks[taskID]; ok {
		if existing.Status == TaskStatusRunning {
			return nil, fmt.Errorf("задача с ID %s уже выполняется", taskID)
		}
		// Повторная доставка из брокера не должна перезапускать задачу,
		// которую пользователь уже отменил.
		if existing.Status == TaskStatusCancelled {
			return nil, fmt.Errorf("задача с ID %s отменена и не может быть запущена повторно", taskID)
		}
	}

	activeTasks := 0
	for _, task := range tm.tasks {
		if task.Status == TaskStatusRunning {
			activeTasks++
		}
	}
	if activeTasks >= tm.maxTasks {
		return nil, errors.New("превышено максимальное количество активных задач")
	}

	// Независимый контекст: отмена ctx вызывающего не должна убивать
	// задачу, которая уже ушла в фон. Логгер zerolog переносим.
	baseTaskCtx, cancel := context.WithCancel(context.Background())
	taskCtx := log.Ctx(ctx).WithContext(baseTaskCtx)

	task := &Task{
		ID:        taskID,
		OwnerID:   ownerID,
		Type:      taskType,
		Status:    TaskStatusRunning,
		Progress:  0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		cancel:    cancel,
	}
	tm.tasks[taskID] = task
	tm.notifyLocked(task)

	log.Ctx(ctx).Info().
		Str("taskID", taskID.String()).
		Str("ownerID", ownerID).
		Str("type", taskType).
		Msg("Задача генерации зарегистрирована")

	return taskCtx, nil
}

// SetProgress обновляет прогресс выполняющейся задачи.
func (tm *TaskTracker) SetProgress(taskID uuid.UUID, progress int, message string) {
	tm.updateStatus(taskID, TaskStatusRunning, progress, message)
}

// CompleteTask помечает задачу успешно завершенной.
func (tm *TaskTracker) CompleteTask(taskID uuid.UUID, message string) {
	tm.updateStatus(taskID, TaskStatusCompleted, 100, message)
}

// FailTask помечает задачу проваленной.
func (tm *TaskTracker) FailTask(taskID uuid.UUID, message string) {
	tm.updateStatus(taskID, TaskStatusFailed, 100, message)
}

func (tm *TaskTracker) updateStatus(taskID uuid.UUID, status TaskStatus, progress int, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return
	}
	// Отмененная задача не воскресает из поздних апдейтов исполнителя.
	if task.Status == TaskStatusCancelled {
		return
	}

	task.Status = status
	task.Progress = progress
	task.Message = message
	task.UpdatedAt = time.Now()

	if status != TaskStatusRunning && task.cancel != nil {
		task.cancel()
		task.cancel = nil
	}

	tm.notifyLocked(task)
}

// notifyLocked отправляет снапшот задачи владельцу. Вызывается под tm.mu.
func (tm *TaskTracker) notifyLocked(task *Task) {
	if tm.wsNotifier == nil {
		return
	}
	payload := map[string]interface{}{
		"task_id":    task.ID,
		"type":       task.Type,
		"status":     task.Status,
		"progress":   task.Progress,
		"message":    task.Message,
		"updated_at": task.UpdatedAt,
	}
	tm.wsNotifier.SendToUser(task.OwnerID, "task_update", "tasks", payload)
}

// GetTask возвращает информацию о задаче по ID
func (tm *TaskTracker) GetTask(taskID uuid.UUID) (*Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("задача с ID %s не найдена", taskID)
	}

	return task, nil
}

// TasksForOwner возвращает все задачи пользователя.
func (tm *TaskTracker) TasksForOwner(ownerID string) []*Task {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	var tasks []*Task
	for _, task := range tm.tasks {
		if task.OwnerID == ownerID {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// CancelTask отменяет выполнение задачи
func (tm *TaskTracker) CancelTask(taskID uuid.UUID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("задача с ID %s не найдена", taskID)
	}

	if task.Status != TaskStatusRunning {
		return fmt.Errorf("невозможно отменить задачу в статусе %s", task.Status)
	}

	if task.cancel != nil {
		task.cancel()
		task.cancel = nil
	}

	task.Status = TaskStatusCancelled
	task.Message = "Задача отменена пользователем"
	task.UpdatedAt = time.Now()
	tm.notifyLocked(task)

	return nil
}

// CleanupTasks удаляет завершенные задачи, которые старше указанного времени
func (tm *TaskTracker) CleanupTasks(age time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for id, task := range tm.tasks {
		if task.Status != TaskStatusRunning && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
		}
	}
}

// SetWebSocketNotifier устанавливает WebSocket нотификатор
func (tm *TaskTracker) SetWebSocketNotifier(notifier WebSocketNotifier) {
	tm.wsNotifier = notifier
}

// Close закрывает трекер и отменяет все незавершенные задачи
func (tm *TaskTracker) Close() {
	close(tm.closing)
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for _, task := range tm.tasks {
		if task.Status == TaskStatusRunning && task.cancel != nil {
			task.cancel()
			task.cancel = nil
			task.Status = TaskStatusCancelled
			task.Message = "Сервис останавливается"
			task.UpdatedAt = time.Now()
		}
	}
}

// Shutdown ожидает завершения всех выполняющихся задач с таймаутом.
func (tm *TaskTracker) Shutdown(ctx context.Context) error {
	close(tm.closing)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		tm.mu.RLock()
		running := 0
		for _, task := range tm.tasks {
			if task.Status == TaskStatusRunning {
				running++
			}
		}
		tm.mu.RUnlock()

		if running == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.New("таймаут при ожидании завершения задач")
		case <-ticker.C:
		}
	}
}
