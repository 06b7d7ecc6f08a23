package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// GenerationTasksQueue — очередь задач генерации.
	GenerationTasksQueue = "storybook_generation_tasks"
	// GenerationTasksDLX — dead-letter exchange для отравленных задач.
	GenerationTasksDLX = "storybook_generation_tasks_dlx"
	// GenerationTasksDLQRoutingKey — routing key для DLQ.
	GenerationTasksDLQRoutingKey = "dlq"
)

// TaskPublisher defines the interface for publishing tasks to the generation queue.
type TaskPublisher interface {
	PublishGenerationTask(ctx context.Context, payload GenerationTaskPayload) error
}

// rabbitMQPublisher implements the TaskPublisher interface for RabbitMQ.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

var _ TaskPublisher = (*rabbitMQPublisher)(nil)

// QueueArgs возвращает аргументы очереди задач. Параметры должны совпадать
// у паблишера и консьюмера, иначе QueueDeclare упадет с PRECONDITION_FAILED.
func QueueArgs() amqp.Table {
	return amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    GenerationTasksDLX,
		"x-dead-letter-routing-key": GenerationTasksDLQRoutingKey,
	}
}

// NewRabbitMQTaskPublisher creates a new instance of TaskPublisher.
// Паблишер объявляет очередь сам: это делает систему устойчивой к порядку
// запуска паблишера и консьюмера.
func NewRabbitMQTaskPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (TaskPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("task publisher: не удалось открыть канал: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,   // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		QueueArgs(), // DLX-аргументы
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("task publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}

	logger.Info("TaskPublisher: очередь объявлена", zap.String("queue", queueName))
	return &rabbitMQPublisher{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("TaskPublisher"),
	}, nil
}

// PublishGenerationTask publishes a generation task.
func (p *rabbitMQPublisher) PublishGenerationTask(ctx context.Context, payload GenerationTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Ошибка сериализации GenerationTaskPayload",
			zap.String("taskID", payload.TaskID),
			zap.String("userID", payload.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("ошибка сериализации задачи генерации для TaskID %s: %w", payload.TaskID, err)
	}

	if err := p.publishMessage(ctx, body); err != nil {
		p.logger.Error("Ошибка публикации GenerationTask",
			zap.String("taskID", payload.TaskID),
			zap.String("userID", payload.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("ошибка публикации задачи генерации для TaskID %s: %w", payload.TaskID, err)
	}
	return nil
}

func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	// Таймаут на публикацию
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	// Попытка публикации с retry до 3 раз
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (используем default)
			p.queueName, // routing key (имя очереди)
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "storybook-server",
			},
		)
		if err == nil {
			break
		}
		p.logger.Warn("Ошибка публикации, повтор",
			zap.Int("attempt", attempt),
			zap.String("queue", p.queueName),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", p.queueName, err)
	}
	return nil
}
