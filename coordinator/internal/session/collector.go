package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"matdist/common/logger"
	"matdist/common/models"
	"matdist/coordinator/internal/launcher"
	"matdist/coordinator/internal/metrics"
	"matdist/coordinator/internal/partition"
)

// errWorkerFailed прерывает ожидание результата при аварийном выходе воркера.
var errWorkerFailed = errors.New("worker failed")

// collector собирает результаты в слоты, переназначая просроченные задания
// и задания, оставшиеся за аварийно вышедшими воркерами.
type collector struct {
	s      *Session
	pool   launcher.Pool
	jobs   []models.Job
	bounds []partition.Bounds
	cols   int
	tr     *tracker
	slots  *Slots

	reassigned int
	failed     []error
}

func (c *collector) run(ctx context.Context) error {
	for !c.slots.Full() {
		wctx, release := c.waitContext(ctx)
		res, err := c.s.svc.DequeueResult(wctx)
		cause := context.Cause(wctx)
		release()
		if err == nil {
			c.accept(ctx, res)
		} else if ctx.Err() != nil {
			return fmt.Errorf("collect results: %w", ctx.Err())
		}
		if len(c.failed) > 0 {
			if err := c.reassignUnfinished(ctx); err != nil {
				return err
			}
			continue
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(cause, errDeadlineTick):
			if err := c.reassignExpired(ctx); err != nil {
				return err
			}
		case errors.Is(cause, ErrNoWorkers):
			return c.drain(ctx)
		default:
			return fmt.Errorf("collect results: %w", err)
		}
	}
	return nil
}

// waitContext прерывает ожидание результата по ближайшему сроку задания,
// по аварийному выходу воркера или по выходу всех воркеров.
// Ошибки выхода попадают в c.failed до возврата release.
func (c *collector) waitContext(ctx context.Context) (context.Context, func()) {
	wctx, cancel := context.WithCancelCause(ctx)
	var timer *time.Timer
	if next, ok := c.tr.nextDeadline(); ok {
		timer = time.AfterFunc(time.Until(next), func() { cancel(errDeadlineTick) })
	}
	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		for {
			select {
			case <-c.pool.Done():
				cancel(ErrNoWorkers)
				return
			case err := <-c.pool.Exited():
				if err == nil {
					continue
				}
				c.failed = append(c.failed, err)
				cancel(errWorkerFailed)
				return
			case <-stop:
				return
			}
		}
	}()
	return wctx, func() {
		if timer != nil {
			timer.Stop()
		}
		close(stop)
		<-watched
		cancel(nil)
	}
}

func (c *collector) accept(ctx context.Context, res models.Result) {
	s := c.s
	if res.JobID < 0 || res.JobID >= c.slots.Len() {
		s.log.Warn().Int("job", res.JobID).Str("worker", res.WorkerID).Msg("result for unknown job dropped")
		s.observe(func(m *metrics.Metrics) { m.Dropped(metrics.DropUnknownJob) })
		return
	}
	if c.slots.Filled(res.JobID) {
		s.log.Debug().Int("job", res.JobID).Int("attempt", res.Attempt).Msg("duplicate result dropped")
		s.observe(func(m *metrics.Metrics) { m.Dropped(metrics.DropDuplicate) })
		return
	}
	want := c.bounds[res.JobID].Size()
	if res.Product.Rows != want || res.Product.Cols != c.cols || res.Product.Validate() != nil {
		s.log.Warn().
			Int("job", res.JobID).
			Str("worker", res.WorkerID).
			Int("rows", res.Product.Rows).
			Int("cols", res.Product.Cols).
			Msg("malformed result dropped")
		s.observe(func(m *metrics.Metrics) { m.Dropped(metrics.DropMalformed) })
		return
	}
	if _, err := c.slots.Put(res.JobID, res.Product); err != nil {
		s.log.Warn().Err(err).Int("job", res.JobID).Msg("result rejected")
		s.observe(func(m *metrics.Metrics) { m.Dropped(metrics.DropMalformed) })
		return
	}
	c.tr.complete(res.JobID)
	s.observe(func(m *metrics.Metrics) { m.ResultsCollected.Inc() })
	s.record(s.recorder.Completed(ctx, s.id, res.JobID, res.WorkerID), "completed")
	logger.LogJob(component, s.id, res.JobID, c.slots.Len(), "result collected from "+res.WorkerID)
}

// reassignExpired переотправляет просроченные задания либо проваливает сессию.
func (c *collector) reassignExpired(ctx context.Context) error {
	for _, id := range c.tr.expired(time.Now()) {
		if attempt := c.tr.attempt(id); attempt >= c.s.cfg.MaxAttempts {
			return fmt.Errorf("%w: job %d after %d attempts", ErrJobDeadline, id, attempt)
		}
		if c.pool.Alive() == 0 {
			return c.drain(ctx)
		}
		ahead := c.tr.pending() - 1
		if err := c.s.publish(ctx, c.tr, c.jobs[id], true, c.s.allowance(ahead, c.pool.Alive())); err != nil {
			return err
		}
		c.reassigned++
	}
	return nil
}

// reassignUnfinished переотправляет все невыполненные задания после аварийного
// выхода воркера: какое из них он держал, неизвестно, а лишние копии
// отбрасываются как дубликаты. Задания без оставшихся попыток ждут своего срока.
func (c *collector) reassignUnfinished(ctx context.Context) error {
	failed := c.failed
	c.failed = nil
	alive := c.pool.Alive()
	c.s.log.Warn().
		Errs("exits", failed).
		Int("alive", alive).
		Int("pending", c.tr.pending()).
		Msg("worker failed, reassigning unfinished jobs")
	if alive == 0 {
		return c.drain(ctx)
	}
	ids := c.tr.unfinished()
	for i, id := range ids {
		if c.tr.attempt(id) >= c.s.cfg.MaxAttempts {
			continue
		}
		if err := c.s.publish(ctx, c.tr, c.jobs[id], true, c.s.allowance(len(ids)+i, alive)); err != nil {
			return err
		}
		c.reassigned++
	}
	return nil
}

// drain забирает уже опубликованные результаты после выхода всех воркеров.
func (c *collector) drain(ctx context.Context) error {
	c.s.log.Warn().Int("pending", c.tr.pending()).Msg("all workers exited, draining results")
	for !c.slots.Full() {
		dctx, cancel := context.WithTimeout(ctx, drainWindow)
		res, err := c.s.svc.DequeueResult(dctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("collect results: %w", ctx.Err())
			}
			return fmt.Errorf("%w: missing jobs %v", ErrNoWorkers, c.slots.Missing())
		}
		c.accept(ctx, res)
	}
	return nil
}
