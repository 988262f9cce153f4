// Package queue реализует QueueService: пару FIFO-каналов (задания и результаты)
// плюс канал готовности воркеров, доступные из независимых процессов.
package queue

import (
	"context"
	"errors"
	"time"

	"matdist/common/models"
)

var (
	// ErrTimeout: канал оставался пустым дольше отведённого времени.
	ErrTimeout = errors.New("queue: timed out waiting for item")
	// ErrUnauthorized: клиент предъявил неверный секрет.
	ErrUnauthorized = errors.New("queue: unauthorized")
	// ErrConnectionRefused: точка подключения недоступна.
	ErrConnectionRefused = errors.New("queue: connection refused")
	// ErrClosed: сервис остановлен, новых элементов не будет.
	ErrClosed = errors.New("queue: closed")
)

// Service хранит общее состояние сессии без бизнес-логики, только безопасный
// конкурентный доступ. Каждый элемент выдаётся ровно одному потребителю.
type Service interface {
	EnqueueJob(ctx context.Context, job models.Job) error
	// DequeueJob возвращает самое старое задание или ErrTimeout, если канал пуст дольше timeout.
	DequeueJob(ctx context.Context, timeout time.Duration) (models.Job, error)

	EnqueueResult(ctx context.Context, res models.Result) error
	// DequeueResult блокируется до появления результата или завершения ctx.
	DequeueResult(ctx context.Context) (models.Result, error)

	SignalReady(ctx context.Context, sig models.ReadySignal) error
	AwaitReady(ctx context.Context) (models.ReadySignal, error)

	Close() error
}

// waitWithTimeout запускает ожидание с ограничением timeout и отличает
// истечение собственного таймаута (ErrTimeout) от отмены родительского контекста.
func waitWithTimeout[T any](ctx context.Context, timeout time.Duration, wait func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return wait(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := wait(tctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, ErrTimeout
	}
	return v, err
}
