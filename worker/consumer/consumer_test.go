package consumer

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matdist/common/matrix"
	"matdist/common/models"
	"matdist/common/queue"
	"matdist/worker/processor"
)

func computeJob(id int) models.Job {
	return models.Job{Kind: models.JobCompute, ID: id, Chunk: matrix.Identity(2), Shared: matrix.Identity(2)}
}

func newConsumer(svc queue.Service, opts ...Option) *Consumer {
	cfg := Config{WorkerID: "w-test", JobWaitTimeout: 100 * time.Millisecond, AttachTimeout: 200 * time.Millisecond}
	return New(cfg, svc, processor.New(cfg.WorkerID), opts...)
}

func TestRunStopsOnSentinelWithoutFurtherResults(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	defer q.Close()

	require.NoError(t, q.EnqueueJob(ctx, computeJob(0)))
	require.NoError(t, q.EnqueueJob(ctx, models.StopJob("")))
	require.NoError(t, q.EnqueueJob(ctx, computeJob(1)))

	report := newConsumer(q).Run(ctx)

	assert.Equal(t, ExitSentinel, report.Reason)
	assert.Equal(t, 1, report.Processed)
	jobs, results := q.Pending()
	assert.Equal(t, 1, jobs, "job after the sentinel must stay unclaimed")
	assert.Equal(t, 1, results)

	res, err := q.DequeueResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.JobID)
	assert.Equal(t, "w-test", res.WorkerID)
}

func TestRunExitsOnWaitTimeout(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	defer q.Close()

	report := newConsumer(q).Run(ctx)

	assert.Equal(t, ExitTimeout, report.Reason)
	assert.Equal(t, 0, report.Processed)
	_, results := q.Pending()
	assert.Zero(t, results)

	// сервис продолжает работать
	require.NoError(t, q.EnqueueJob(ctx, computeJob(5)))
	job, err := q.DequeueJob(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, job.ID)
}

func TestRunSendsReadySignal(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	defer q.Close()

	newConsumer(q).Run(ctx)

	sig, err := q.AwaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w-test", sig.WorkerID)
	assert.NotZero(t, sig.PID)
}

func TestRunComputeFailureEmitsNothing(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	defer q.Close()

	bad := models.Job{Kind: models.JobCompute, ID: 2, Chunk: models.NewMatrix(1, 3), Shared: models.NewMatrix(2, 2)}
	require.NoError(t, q.EnqueueJob(ctx, computeJob(1)))
	require.NoError(t, q.EnqueueJob(ctx, bad))
	require.NoError(t, q.EnqueueJob(ctx, computeJob(3)))

	report := newConsumer(q).Run(ctx)

	assert.Equal(t, ExitComputeFailure, report.Reason)
	require.ErrorIs(t, report.Err, processor.ErrCompute)
	assert.Equal(t, 1, report.Processed)
	jobs, results := q.Pending()
	assert.Equal(t, 1, jobs)
	assert.Equal(t, 1, results)
}

func TestRunStateMachineTransitions(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	defer q.Close()
	require.NoError(t, q.EnqueueJob(ctx, computeJob(0)))
	require.NoError(t, q.EnqueueJob(ctx, models.StopJob("")))

	var mu sync.Mutex
	var seen [][2]State
	c := newConsumer(q, WithTransitionHook(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, [2]State{from, to})
	}))
	c.Run(ctx)

	assert.Equal(t, [][2]State{
		{Connecting, Waiting},
		{Waiting, Computing},
		{Computing, Waiting},
		{Waiting, Stopped},
	}, seen)
	assert.Equal(t, Stopped, c.State())
}

func TestRunConnectionRefused(t *testing.T) {
	client := queue.NewClient("127.0.0.1:1", "secret_password")
	var seen [][2]State
	c := newConsumer(client, WithTransitionHook(func(from, to State) {
		seen = append(seen, [2]State{from, to})
	}))

	report := c.Run(context.Background())

	assert.Equal(t, ExitConnectionRefused, report.Reason)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, [][2]State{{Connecting, Stopped}}, seen)
}

func TestRunWrongSecretIsNotRetried(t *testing.T) {
	store := queue.NewMemory()
	defer store.Close()
	ts := httptest.NewServer(queue.NewServer("127.0.0.1:0", "right", store).Handler())
	defer ts.Close()

	client := queue.NewClient(strings.TrimPrefix(ts.URL, "http://"), "wrong")
	cfg := Config{WorkerID: "w", AttachTimeout: 10 * time.Second}
	start := time.Now()
	report := New(cfg, client, processor.New("w")).Run(context.Background())

	assert.Equal(t, ExitConnectionRefused, report.Reason)
	require.ErrorIs(t, report.Err, queue.ErrUnauthorized)
	assert.Less(t, time.Since(start), 5*time.Second)
	jobs, _ := store.Pending()
	assert.Zero(t, jobs)
}

func TestRunOverHTTP(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemory()
	defer store.Close()
	ts := httptest.NewServer(queue.NewServer("127.0.0.1:0", "s", store).Handler())
	defer ts.Close()

	require.NoError(t, store.EnqueueJob(ctx, computeJob(0)))
	require.NoError(t, store.EnqueueJob(ctx, computeJob(1)))
	require.NoError(t, store.EnqueueJob(ctx, models.StopJob("")))

	client := queue.NewClient(strings.TrimPrefix(ts.URL, "http://"), "s")
	report := newConsumer(client).Run(ctx)

	assert.Equal(t, ExitSentinel, report.Reason)
	assert.Equal(t, 2, report.Processed)
	_, results := store.Pending()
	assert.Equal(t, 2, results)
}

func TestRunCanceled(t *testing.T) {
	q := queue.NewMemory()
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := New(Config{WorkerID: "w", JobWaitTimeout: time.Minute}, q, processor.New("w")).Run(ctx)
	assert.Equal(t, ExitCanceled, report.Reason)
}

func TestExitReasonClean(t *testing.T) {
	assert.True(t, ExitSentinel.Clean())
	assert.True(t, ExitTimeout.Clean())
	assert.False(t, ExitComputeFailure.Clean())
	assert.False(t, ExitConnectionRefused.Clean())
	assert.Equal(t, "compute_failure", ExitComputeFailure.String())
}
