// Package session реализует координатор одного распределённого умножения матриц:
// разбиение, раздача заданий, сбор результатов по слотам, остановка воркеров.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"matdist/common/constants"
	"matdist/common/logger"
	"matdist/common/matrix"
	"matdist/common/models"
	"matdist/common/queue"
	"matdist/coordinator/internal/launcher"
	"matdist/coordinator/internal/ledger"
	"matdist/coordinator/internal/metrics"
	"matdist/coordinator/internal/partition"
)

const component = "Coordinator"

// drainWindow: сколько ждать уже опубликованные результаты после выхода всех воркеров.
const drainWindow = 500 * time.Millisecond

var (
	ErrShape           = errors.New("incompatible matrix shapes")
	ErrWorkersNotReady = errors.New("workers did not become ready in time")
	ErrJobDeadline     = errors.New("job missed its deadline with no attempts left")
	ErrNoWorkers       = errors.New("all workers exited with jobs outstanding")

	errDeadlineTick = errors.New("job deadline reached")
)

// Config: параметры сессии.
type Config struct {
	Workers int
	// ReadyTimeout ограничивает ожидание сигналов готовности всех воркеров.
	ReadyTimeout time.Duration
	// JobDeadline: срок одной попытки задания; 0 отключает переназначение.
	JobDeadline time.Duration
	MaxAttempts int
	// ShutdownGrace: сколько ждать выхода воркеров после стоп-сигналов.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = constants.DefaultReadyTimeout
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = constants.DefaultShutdownGrace
	}
	return c
}

// Outcome: итог успешной сессии.
type Outcome struct {
	SessionID  string
	Product    models.Matrix
	Elapsed    time.Duration
	Chunks     []partition.Bounds
	Reassigned int
	Workers    int
}

// Session владеет жизненным циклом очереди и воркеров одной сессии.
type Session struct {
	id       string
	cfg      Config
	svc      queue.Service
	launcher launcher.Launcher
	recorder ledger.Recorder
	metrics  *metrics.Metrics
	teardown func(ctx context.Context) error
	log      zerolog.Logger
}

type Option func(*Session)

// WithID задаёт идентификатор сессии (по умолчанию случайный UUID).
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

func WithRecorder(r ledger.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTeardown заменяет закрытие очереди, например на остановку HTTP-сервера очереди.
func WithTeardown(fn func(ctx context.Context) error) Option {
	return func(s *Session) { s.teardown = fn }
}

func New(cfg Config, svc queue.Service, l launcher.Launcher, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg.withDefaults(),
		svc:      svc,
		launcher: l,
		recorder: ledger.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.teardown == nil {
		s.teardown = func(context.Context) error { return svc.Close() }
	}
	s.log = logger.Component(component).With().Str("session", s.id).Logger()
	return s
}

// ID: идентификатор сессии.
func (s *Session) ID() string {
	return s.id
}

// Run перемножает a и b силами воркеров. Очередь закрывается при любом исходе.
func (s *Session) Run(ctx context.Context, a, b models.Matrix) (Outcome, error) {
	start := time.Now()
	out := Outcome{SessionID: s.id, Workers: s.cfg.Workers}

	jobs, bounds, err := s.plan(a, b)
	if err != nil {
		s.closeQueue(ctx)
		return out, err
	}
	out.Chunks = bounds
	logger.LogSession(component, s.id, fmt.Sprintf("session started: %dx%d x %dx%d in %d chunks", a.Rows, a.Cols, b.Rows, b.Cols, len(bounds)))

	s.record(s.recorder.Begin(ctx, s.ledgerDoc(a, b, bounds, start)), "begin")

	product, reassigned, err := s.execute(ctx, jobs, bounds, b.Cols)
	out.Reassigned = reassigned
	out.Elapsed = time.Since(start)

	status, outcome := ledger.StatusDone, "done"
	if err != nil {
		status, outcome = ledger.StatusFail, "failed"
	}
	s.record(s.recorder.Finish(context.WithoutCancel(ctx), s.id, status, out.Elapsed, err), "finish")
	s.observe(func(m *metrics.Metrics) { m.ObserveSession(outcome, out.Elapsed) })

	if err != nil {
		s.log.Error().Err(err).Dur("elapsed", out.Elapsed).Msg("session failed")
		return out, err
	}
	out.Product = product
	s.log.Info().
		Dur("elapsed", out.Elapsed).
		Int("chunks", len(bounds)).
		Int("reassigned", reassigned).
		Msg("session finished")
	return out, nil
}

// plan проверяет формы и нарезает A на задания.
func (s *Session) plan(a, b models.Matrix) ([]models.Job, []partition.Bounds, error) {
	if s.cfg.Workers < 1 {
		return nil, nil, fmt.Errorf("workers must be at least 1, got %d", s.cfg.Workers)
	}
	if err := a.Validate(); err != nil {
		return nil, nil, fmt.Errorf("matrix A: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, nil, fmt.Errorf("matrix B: %w", err)
	}
	if a.Cols != b.Rows {
		return nil, nil, fmt.Errorf("%w: A is %dx%d, B is %dx%d", ErrShape, a.Rows, a.Cols, b.Rows, b.Cols)
	}

	bounds, err := partition.Split(a.Rows, partition.ChunkCount(s.cfg.Workers))
	if err != nil {
		return nil, nil, err
	}
	jobs := make([]models.Job, len(bounds))
	for id, bd := range bounds {
		chunk, err := matrix.Slice(a, bd.Start, bd.End)
		if err != nil {
			return nil, nil, fmt.Errorf("slice chunk %d: %w", id, err)
		}
		jobs[id] = models.Job{
			Kind:      models.JobCompute,
			ID:        id,
			SessionID: s.id,
			Chunk:     chunk,
			Shared:    b,
		}
	}
	return jobs, bounds, nil
}

// execute запускает воркеров, раздаёт задания и собирает результаты.
// Воркеры останавливаются, а очередь закрывается до возврата.
func (s *Session) execute(ctx context.Context, jobs []models.Job, bounds []partition.Bounds, cols int) (models.Matrix, int, error) {
	pool, err := s.launcher.Launch(ctx, s.cfg.Workers)
	if err != nil {
		s.closeQueue(ctx)
		return models.Matrix{}, 0, fmt.Errorf("launch workers: %w", err)
	}
	s.log.Info().Int("workers", s.cfg.Workers).Int("chunks", len(jobs)).Msg("workers launched")

	product, reassigned, err := s.distribute(ctx, pool, jobs, bounds, cols)
	s.shutdown(ctx, pool)
	return product, reassigned, err
}

func (s *Session) distribute(ctx context.Context, pool launcher.Pool, jobs []models.Job, bounds []partition.Bounds, cols int) (models.Matrix, int, error) {
	if err := s.awaitReady(ctx, pool); err != nil {
		return models.Matrix{}, 0, err
	}

	tr := newTracker(len(jobs), s.cfg.JobDeadline > 0)
	for id := range jobs {
		if err := s.publish(ctx, tr, jobs[id], false, s.allowance(id, s.cfg.Workers)); err != nil {
			return models.Matrix{}, 0, err
		}
	}

	slots := NewSlots(len(jobs))
	c := &collector{s: s, pool: pool, jobs: jobs, bounds: bounds, cols: cols, tr: tr, slots: slots}
	if err := c.run(ctx); err != nil {
		return models.Matrix{}, c.reassigned, err
	}
	product, err := slots.Assemble()
	return product, c.reassigned, err
}

// awaitReady ждёт по одному сигналу готовности от каждого воркера.
func (s *Session) awaitReady(ctx context.Context, pool launcher.Pool) error {
	rctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	rctx, cancelTimeout := context.WithTimeout(rctx, s.cfg.ReadyTimeout)
	defer cancelTimeout()
	go func() {
		select {
		case <-pool.Done():
			cancel(ErrNoWorkers)
		case <-rctx.Done():
		}
	}()

	for ready := 0; ready < s.cfg.Workers; ready++ {
		sig, err := s.svc.AwaitReady(rctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if cause := context.Cause(rctx); errors.Is(cause, ErrNoWorkers) {
				return fmt.Errorf("%w: %d of %d ready", ErrNoWorkers, ready, s.cfg.Workers)
			}
			return fmt.Errorf("%w: %d of %d ready: %v", ErrWorkersNotReady, ready, s.cfg.Workers, err)
		}
		s.log.Debug().Str("worker", sig.WorkerID).Int("pid", sig.PID).Msg("worker ready")
	}
	s.log.Info().Int("workers", s.cfg.Workers).Msg("all workers ready")
	return nil
}

// allowance возвращает срок задания, перед которым в очереди стоят ahead
// заданий на workers воркеров: по одному JobDeadline на каждую волну.
func (s *Session) allowance(ahead, workers int) time.Duration {
	if workers < 1 {
		workers = 1
	}
	return s.cfg.JobDeadline * time.Duration(ahead/workers+1)
}

// publish кладёт очередную попытку задания в канал заданий.
func (s *Session) publish(ctx context.Context, tr *tracker, job models.Job, retry bool, allowance time.Duration) error {
	job.Attempt = tr.dispatched(job.ID, time.Now(), allowance)
	if err := s.svc.EnqueueJob(ctx, job); err != nil {
		return fmt.Errorf("enqueue job %d: %w", job.ID, err)
	}
	s.observe(func(m *metrics.Metrics) { m.JobsDispatched.Inc() })
	if retry {
		s.observe(func(m *metrics.Metrics) { m.Reassignments.Inc() })
		s.record(s.recorder.Reassigned(ctx, s.id, job.ID, job.Attempt), "reassigned")
		logger.LogJob(component, s.id, job.ID, tr.total(), fmt.Sprintf("job reassigned, attempt %d", job.Attempt))
		return nil
	}
	s.record(s.recorder.Published(ctx, s.id, job.ID, job.Attempt), "published")
	return nil
}

// shutdown рассылает стоп-сигналы, ждёт воркеров и закрывает очередь.
func (s *Session) shutdown(ctx context.Context, pool launcher.Pool) {
	bg := context.WithoutCancel(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		if err := s.svc.EnqueueJob(bg, models.StopJob(s.id)); err != nil {
			s.log.Warn().Err(err).Msg("enqueue stop signal")
			break
		}
	}

	gctx, cancel := context.WithTimeout(bg, s.cfg.ShutdownGrace)
	err := pool.Wait(gctx)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn().Int("alive", pool.Alive()).Msg("workers ignored stop signal, killing")
		pool.Kill()
		kctx, cancel := context.WithTimeout(bg, s.cfg.ShutdownGrace)
		err = pool.Wait(kctx)
		cancel()
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("worker exit status")
	}
	s.closeQueue(ctx)
}

func (s *Session) closeQueue(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ContextTimeout)
	defer cancel()
	if err := s.teardown(tctx); err != nil {
		s.log.Warn().Err(err).Msg("close queue")
	}
}

func (s *Session) ledgerDoc(a, b models.Matrix, bounds []partition.Bounds, now time.Time) ledger.SessionDoc {
	chunks := make([]ledger.Chunk, len(bounds))
	for id, bd := range bounds {
		chunks[id] = ledger.Chunk{
			JobID:     id,
			StartRow:  bd.Start,
			EndRow:    bd.End,
			Status:    ledger.ChunkReceived,
			UpdatedAt: now,
		}
	}
	return ledger.SessionDoc{
		SessionID:  s.id,
		Status:     ledger.StatusInProgress,
		Rows:       a.Rows,
		Inner:      a.Cols,
		Cols:       b.Cols,
		Workers:    s.cfg.Workers,
		ChunkCount: len(bounds),
		Chunks:     chunks,
		CreatedAt:  now,
	}
}

// record логирует ошибку журнала; журнал не влияет на исход сессии.
func (s *Session) record(err error, event string) {
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("ledger write failed")
	}
}

func (s *Session) observe(fn func(m *metrics.Metrics)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}
