package queue

import (
	"context"
	"sync"
	"time"

	"matdist/common/models"
)

// fifo: неограниченная очередь с ожиданием. Сигнальный канал закрывается и
// пересоздаётся при каждом изменении, будя всех ожидающих.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{signal: make(chan struct{})}
}

func (q *fifo[T]) push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.broadcast()
	return nil
}

func (q *fifo[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *fifo[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fifo[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.broadcast()
}

// broadcast вызывается под q.mu.
func (q *fifo[T]) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Memory: QueueService внутри процесса координатора.
type Memory struct {
	jobs    *fifo[models.Job]
	results *fifo[models.Result]
	ready   *fifo[models.ReadySignal]
}

var _ Service = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		jobs:    newFIFO[models.Job](),
		results: newFIFO[models.Result](),
		ready:   newFIFO[models.ReadySignal](),
	}
}

func (m *Memory) EnqueueJob(_ context.Context, job models.Job) error {
	return m.jobs.push(job)
}

func (m *Memory) DequeueJob(ctx context.Context, timeout time.Duration) (models.Job, error) {
	return waitWithTimeout(ctx, timeout, m.jobs.pop)
}

func (m *Memory) EnqueueResult(_ context.Context, res models.Result) error {
	return m.results.push(res)
}

func (m *Memory) DequeueResult(ctx context.Context) (models.Result, error) {
	return m.results.pop(ctx)
}

// DequeueResultWithin: DequeueResult с ограничением ожидания; нужна серверу для длинного опроса.
func (m *Memory) DequeueResultWithin(ctx context.Context, timeout time.Duration) (models.Result, error) {
	return waitWithTimeout(ctx, timeout, m.results.pop)
}

func (m *Memory) SignalReady(_ context.Context, sig models.ReadySignal) error {
	return m.ready.push(sig)
}

func (m *Memory) AwaitReady(ctx context.Context) (models.ReadySignal, error) {
	return m.ready.pop(ctx)
}

// AwaitReadyWithin: AwaitReady с ограничением ожидания.
func (m *Memory) AwaitReadyWithin(ctx context.Context, timeout time.Duration) (models.ReadySignal, error) {
	return waitWithTimeout(ctx, timeout, m.ready.pop)
}

// Pending возвращает число невыданных заданий и результатов.
func (m *Memory) Pending() (jobs, results int) {
	return m.jobs.len(), m.results.len()
}

// Close будит всех ожидающих с ErrClosed и отбрасывает невыданные элементы.
func (m *Memory) Close() error {
	m.jobs.close()
	m.results.close()
	m.ready.close()
	return nil
}
