package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/internal/messaging"
)

// TaskConsumer слушает очередь задач генерации и передает сообщения
// обработчику. Отравленные сообщения уходят в DLQ через nack без requeue.
type TaskConsumer struct {
	conn        *amqp.Connection
	handler     *TaskHandler
	logger      *zap.Logger
	queueName   string
	channel     *amqp.Channel
	consumerTag string
	mu          sync.Mutex
	cancelFunc  context.CancelFunc
	stopChan    chan struct{}
}

// NewTaskConsumer создает новый экземпляр TaskConsumer.
func NewTaskConsumer(conn *amqp.Connection, handler *TaskHandler, logger *zap.Logger, queueName string) *TaskConsumer {
	return &TaskConsumer{
		conn:      conn,
		handler:   handler,
		logger:    logger.Named("TaskConsumer"),
		queueName: queueName,
		stopChan:  make(chan struct{}),
	}
}

// Start запускает консьюмера в отдельной горутине.
func (c *TaskConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		return errors.New("TaskConsumer уже запущен")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("ошибка открытия канала для TaskConsumer: %w", err)
	}
	c.channel = ch

	localCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	if err := c.declareTopology(ch); err != nil {
		ch.Close()
		c.channel = nil
		return err
	}

	// Одна задача за раз: генерация тяжелая, prefetch не нужен.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		c.channel = nil
		return fmt.Errorf("ошибка установки QoS для TaskConsumer: %w", err)
	}

	c.consumerTag = fmt.Sprintf("generation-consumer-%d", time.Now().UnixNano())

	msgs, err := ch.Consume(
		c.queueName,
		c.consumerTag,
		false, // autoAck = false
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		c.channel = nil
		return fmt.Errorf("ошибка регистрации консьюмера '%s': %w", c.queueName, err)
	}

	c.logger.Info("TaskConsumer запущен, ожидание задач", zap.String("queue", c.queueName))

	go func() {
		defer close(c.stopChan)
		defer c.cleanupChannel()
		for {
			select {
			case <-localCtx.Done():
				c.logger.Info("Контекст отменен, TaskConsumer останавливается...")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("Канал сообщений RabbitMQ закрыт, TaskConsumer останавливается.")
					return
				}
				c.handleMessage(localCtx, msg)
			}
		}
	}()

	return nil
}

// declareTopology объявляет очередь задач, DLX и DLQ. Параметры очереди
// должны совпадать с паблишером.
func (c *TaskConsumer) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		messaging.GenerationTasksDLX,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("ошибка объявления DLX '%s': %w", messaging.GenerationTasksDLX, err)
	}

	dlqName := c.queueName + "_dlq"
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("ошибка объявления DLQ '%s': %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, messaging.GenerationTasksDLQRoutingKey, messaging.GenerationTasksDLX, false, nil); err != nil {
		return fmt.Errorf("ошибка привязки DLQ '%s': %w", dlqName, err)
	}

	if _, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		messaging.QueueArgs(),
	); err != nil {
		return fmt.Errorf("ошибка объявления очереди '%s': %w", c.queueName, err)
	}
	return nil
}

func (c *TaskConsumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var payload messaging.GenerationTaskPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error("Не удалось распарсить задачу генерации, сообщение уходит в DLQ", zap.Error(err))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error("Ошибка nack", zap.Error(nackErr))
		}
		return
	}

	if err := c.handler.Handle(ctx, payload); err != nil {
		// Handle возвращает ошибку только для невалидных сообщений:
		// ретраить их бессмысленно, отправляем в DLQ.
		c.logger.Error("Невалидная задача генерации, сообщение уходит в DLQ",
			zap.String("taskID", payload.TaskID),
			zap.Error(err),
		)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error("Ошибка nack", zap.Error(nackErr))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Ошибка ack", zap.String("taskID", payload.TaskID), zap.Error(err))
	}
}

func (c *TaskConsumer) cleanupChannel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Ошибка закрытия канала TaskConsumer", zap.Error(err))
		}
		c.channel = nil
	}
}

// Stop останавливает консьюмера и дожидается завершения горутины.
func (c *TaskConsumer) Stop() {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.mu.Unlock()

	select {
	case <-c.stopChan:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Таймаут ожидания остановки TaskConsumer")
	}
}
