// Package processor вычисляет произведение блока строк на общую матрицу.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"matdist/common/constants"
	"matdist/common/matrix"
	"matdist/common/models"
)

// ErrCompute: любая ошибка при обработке полученного задания.
var ErrCompute = errors.New("compute failure")

// Multiplier: векторизованный примитив a·b.
type Multiplier func(a, b models.Matrix) (models.Matrix, error)

// DelayFunc возвращает искусственную задержку для задания (имитация передачи по сети).
type DelayFunc func(job models.Job) time.Duration

// Processor выполняет обработку заданий одного воркера.
type Processor struct {
	workerID string
	multiply Multiplier
	delay    DelayFunc
}

// Option настраивает Processor.
type Option func(*Processor)

// WithMultiplier подменяет примитив умножения.
func WithMultiplier(m Multiplier) Option {
	return func(p *Processor) { p.multiply = m }
}

// WithTransferDelay включает имитацию сетевой задержки.
func WithTransferDelay(d DelayFunc) Option {
	return func(p *Processor) { p.delay = d }
}

func New(workerID string, opts ...Option) *Processor {
	p := &Processor{workerID: workerID, multiply: matrix.Multiply}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process вычисляет chunk·shared и возвращает результат с тегом задания.
// Все ошибки обёрнуты в ErrCompute.
func (p *Processor) Process(ctx context.Context, job models.Job) (res models.Result, err error) {
	if job.IsStop() {
		return models.Result{}, fmt.Errorf("%w: sentinel job is not computable", ErrCompute)
	}
	if err := job.Chunk.Validate(); err != nil {
		return models.Result{}, fmt.Errorf("%w: job %d chunk: %v", ErrCompute, job.ID, err)
	}
	if err := job.Shared.Validate(); err != nil {
		return models.Result{}, fmt.Errorf("%w: job %d shared: %v", ErrCompute, job.ID, err)
	}

	if p.delay != nil {
		if d := p.delay(job); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return models.Result{}, fmt.Errorf("%w: job %d: %v", ErrCompute, job.ID, ctx.Err())
			}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: job %d: panic: %v", ErrCompute, job.ID, r)
		}
	}()
	product, err := p.multiply(job.Chunk, job.Shared)
	if err != nil {
		return models.Result{}, fmt.Errorf("%w: job %d: %v", ErrCompute, job.ID, err)
	}

	return models.Result{
		JobID:    job.ID,
		WorkerID: p.workerID,
		Attempt:  job.Attempt,
		Product:  product,
	}, nil
}

// SimulatedTransfer: задержка, пропорциональная объёму блока и общей матрицы.
// perMiB <= 0 означает значение по умолчанию.
func SimulatedTransfer(perMiB time.Duration) DelayFunc {
	if perMiB <= 0 {
		perMiB = constants.DefaultTransferPerMiB
	}
	return func(job models.Job) time.Duration {
		bytes := job.Chunk.Bytes() + job.Shared.Bytes()
		return time.Duration(float64(perMiB) * float64(bytes) / (1 << 20))
	}
}
