// Package consumer реализует цикл воркера: подключение, сигнал готовности, получение
// заданий до сигнала остановки или таймаута ожидания.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"matdist/common/constants"
	"matdist/common/logger"
	"matdist/common/models"
	"matdist/common/queue"
	"matdist/worker/processor"
)

// State: состояние воркера.
type State int

const (
	Connecting State = iota
	Waiting
	Computing
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Waiting:
		return "waiting"
	case Computing:
		return "computing"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExitReason: наблюдаемая причина остановки воркера.
type ExitReason int

const (
	ExitSentinel ExitReason = iota
	ExitTimeout
	ExitConnectionRefused
	ExitComputeFailure
	ExitQueueClosed
	ExitCanceled
)

func (r ExitReason) String() string {
	switch r {
	case ExitSentinel:
		return "sentinel"
	case ExitTimeout:
		return "timeout"
	case ExitConnectionRefused:
		return "connection_refused"
	case ExitComputeFailure:
		return "compute_failure"
	case ExitQueueClosed:
		return "queue_closed"
	case ExitCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("exit(%d)", int(r))
	}
}

// Clean сообщает, что остановка штатная.
func (r ExitReason) Clean() bool {
	return r == ExitSentinel || r == ExitTimeout || r == ExitQueueClosed
}

// Attacher: сервис, которому нужно явное подключение (HTTP-клиент очереди).
type Attacher interface {
	Attach(ctx context.Context) error
}

// Config: параметры цикла воркера.
type Config struct {
	WorkerID       string
	JobWaitTimeout time.Duration
	AttachTimeout  time.Duration
}

// Report: итог работы воркера.
type Report struct {
	WorkerID  string
	Reason    ExitReason
	Processed int
	Err       error
}

// Consumer владеет конечным автоматом одного воркера.
type Consumer struct {
	cfg          Config
	svc          queue.Service
	proc         *processor.Processor
	log          zerolog.Logger
	state        State
	onTransition func(from, to State)
}

// Option настраивает Consumer.
type Option func(*Consumer)

// WithTransitionHook вызывает fn при каждой смене состояния.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(c *Consumer) { c.onTransition = fn }
}

func New(cfg Config, svc queue.Service, proc *processor.Processor, opts ...Option) *Consumer {
	if cfg.JobWaitTimeout <= 0 {
		cfg.JobWaitTimeout = constants.DefaultJobWaitTimeout
	}
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = constants.DefaultAttachTimeout
	}
	c := &Consumer{
		cfg:   cfg,
		svc:   svc,
		proc:  proc,
		state: Connecting,
		log:   logger.Component("Worker").With().Str("worker", cfg.WorkerID).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State возвращает текущее состояние.
func (c *Consumer) State() State {
	return c.state
}

// Run выполняет цикл до остановки. Ошибки не всплывают к координатору:
// причина остановки возвращается в Report и пишется в лог.
func (c *Consumer) Run(ctx context.Context) Report {
	report := Report{WorkerID: c.cfg.WorkerID}

	if err := c.attach(ctx); err != nil {
		return c.stop(report, reasonFor(err, ExitConnectionRefused), err)
	}
	if err := c.svc.SignalReady(ctx, models.ReadySignal{WorkerID: c.cfg.WorkerID, PID: os.Getpid()}); err != nil {
		return c.stop(report, reasonFor(err, ExitConnectionRefused), err)
	}
	c.transition(Waiting)
	c.log.Info().Msg("attached, waiting for jobs")

	for {
		job, err := c.svc.DequeueJob(ctx, c.cfg.JobWaitTimeout)
		if err != nil {
			return c.stop(report, reasonFor(err, ExitComputeFailure), err)
		}
		if job.IsStop() {
			return c.stop(report, ExitSentinel, nil)
		}

		c.transition(Computing)
		res, err := c.proc.Process(ctx, job)
		if err != nil {
			return c.stop(report, ExitComputeFailure, err)
		}
		if err := c.svc.EnqueueResult(ctx, res); err != nil {
			return c.stop(report, reasonFor(err, ExitComputeFailure), err)
		}
		report.Processed++
		c.log.Debug().Int("job", job.ID).Int("attempt", job.Attempt).Int("rows", job.Chunk.Rows).Msg("result published")
		c.transition(Waiting)
	}
}

// attach подключается с экспоненциальной задержкой в пределах AttachTimeout.
// Неверный секрет не повторяется.
func (c *Consumer) attach(ctx context.Context) error {
	a, ok := c.svc.(Attacher)
	if !ok {
		return nil
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 50 * time.Millisecond
	expBackoff.MaxElapsedTime = c.cfg.AttachTimeout

	operation := func() error {
		err := a.Attach(ctx)
		if errors.Is(err, queue.ErrUnauthorized) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}

func (c *Consumer) stop(report Report, reason ExitReason, err error) Report {
	c.transition(Stopped)
	report.Reason = reason
	report.Err = err

	level := zerolog.InfoLevel
	if !reason.Clean() {
		level = zerolog.WarnLevel
	}
	ev := c.log.WithLevel(level).Err(err)
	switch reason {
	case ExitSentinel:
		ev.Int("processed", report.Processed).Msg("stop signal received, exiting")
	case ExitTimeout:
		ev.Int("processed", report.Processed).Msg("no job within wait timeout, exiting")
	case ExitQueueClosed:
		ev.Int("processed", report.Processed).Msg("queue closed, exiting")
	case ExitConnectionRefused:
		ev.Msg("cannot reach queue service, exiting without work")
	case ExitComputeFailure:
		ev.Int("processed", report.Processed).Msg("job failed, exiting without result")
	case ExitCanceled:
		ev.Int("processed", report.Processed).Msg("canceled, exiting")
	}
	return report
}

func (c *Consumer) transition(to State) {
	from := c.state
	c.state = to
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}

// reasonFor сопоставляет ошибку очереди с причиной остановки.
func reasonFor(err error, fallback ExitReason) ExitReason {
	switch {
	case errors.Is(err, queue.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, queue.ErrClosed):
		return ExitQueueClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitCanceled
	case errors.Is(err, queue.ErrUnauthorized), errors.Is(err, queue.ErrConnectionRefused):
		return ExitConnectionRefused
	default:
		return fallback
	}
}
