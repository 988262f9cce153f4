package amqputil

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"

	"matdist/common/logger"
)

// Максимальное количество попыток открытия канала
const DefaultMaxRetries = 5

// ConnectRabbitMQ устанавливает соединение с RabbitMQ по uri, повторяя попытки
// с экспоненциальной задержкой не дольше maxElapsed. Ошибка аутентификации не повторяется.
func ConnectRabbitMQ(uri string, maxElapsed time.Duration) (*amqp.Connection, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxElapsedTime = maxElapsed

	var conn *amqp.Connection
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		conn, err = amqp.Dial(uri)
		if err == nil {
			return nil
		}
		if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) {
			return backoff.Permanent(err)
		}
		logger.Log("RabbitMQ", fmt.Sprintf("connect attempt %d failed: %v", attempt, err))
		return err
	}
	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, err
	}
	logger.Log("RabbitMQ", "connection established")
	return conn, nil
}

// CreateChannel открывает канал и объявляет очереди queueNames.
// autoDelete=false: очередь живёт всю сессию и удаляется координатором явно.
func CreateChannel(conn *amqp.Connection, queueNames ...string) (*amqp.Channel, error) {
	var lastErr error
	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		ch, err := conn.Channel()
		if err != nil {
			lastErr = err
			logger.Log("RabbitMQ", fmt.Sprintf("open channel failed (attempt %d/%d): %v", attempt, DefaultMaxRetries, err))
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
			continue
		}
		declared := true
		for _, name := range queueNames {
			if _, err = ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
				lastErr = err
				logger.Log("RabbitMQ", fmt.Sprintf("declare queue '%s' failed (attempt %d/%d): %v", name, attempt, DefaultMaxRetries, err))
				_ = ch.Close()
				declared = false
				break
			}
		}
		if !declared {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
			continue
		}
		return ch, nil
	}
	return nil, fmt.Errorf("failed to create RabbitMQ channel: %w", lastErr)
}

// QueueName строит имя очереди, уникальное для сессии.
func QueueName(sessionID, queue string) string {
	if sessionID == "" {
		return "matdist." + queue
	}
	return "matdist." + sessionID + "." + queue
}
