package amqpqueue

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"matdist/common/models"
	"matdist/common/queue"
)

// startRabbit поднимает RabbitMQ в контейнере; без Docker тест пропускается.
func startRabbit(t *testing.T) (host string, port string) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	h, err := c.Host(ctx)
	require.NoError(t, err)
	p, err := c.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)
	return h, p.Port()
}

func TestAMQPServiceSession(t *testing.T) {
	host, port := startRabbit(t)
	uri := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port)
	session := uuid.NewString()
	ctx := context.Background()

	owner, err := Open(Options{URI: uri, SessionID: session, Owner: true, ConnectTimeout: 30 * time.Second})
	require.NoError(t, err)
	worker, err := Open(Options{URI: uri, SessionID: session, ConnectTimeout: 30 * time.Second})
	require.NoError(t, err)
	defer worker.Close()

	require.NoError(t, worker.SignalReady(ctx, models.ReadySignal{WorkerID: "w1"}))
	sig, err := owner.AwaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, "w1", sig.WorkerID)

	job := models.Job{Kind: models.JobCompute, ID: 0, Chunk: models.Matrix{Rows: 1, Cols: 1, Data: []float64{2}}}
	require.NoError(t, owner.EnqueueJob(ctx, job))
	got, err := worker.DequeueJob(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, err = worker.DequeueJob(ctx, 100*time.Millisecond)
	require.ErrorIs(t, err, queue.ErrTimeout)

	require.NoError(t, worker.EnqueueResult(ctx, models.Result{JobID: 0, WorkerID: "w1"}))
	res, err := owner.DequeueResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.JobID)

	require.NoError(t, owner.Close())
	_, err = worker.DequeueJob(ctx, time.Second)
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestAMQPWrongCredentials(t *testing.T) {
	host, port := startRabbit(t)
	uri := fmt.Sprintf("amqp://guest:wrong@%s:%s/", host, port)

	_, err := Open(Options{URI: uri, ConnectTimeout: 10 * time.Second})
	require.ErrorIs(t, err, queue.ErrUnauthorized)
}

func TestAMQPCloseReleasesConnectionWhenDeleteFails(t *testing.T) {
	host, port := startRabbit(t)
	uri := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port)

	owner, err := Open(Options{URI: uri, SessionID: uuid.NewString(), Owner: true, ConnectTimeout: 30 * time.Second})
	require.NoError(t, err)

	// Закрытый канал ломает удаление очередей.
	require.NoError(t, owner.ch.Close())

	err = owner.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete queue")
	assert.True(t, owner.conn.IsClosed())
	assert.NoError(t, owner.Close(), "second Close is a no-op")
}

func TestAMQPRejectsNonFiniteMatrix(t *testing.T) {
	host, port := startRabbit(t)
	uri := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port)

	owner, err := Open(Options{URI: uri, SessionID: uuid.NewString(), Owner: true, ConnectTimeout: 30 * time.Second})
	require.NoError(t, err)
	defer owner.Close()

	job := models.Job{Kind: models.JobCompute, Chunk: models.Matrix{Rows: 1, Cols: 1, Data: []float64{math.NaN()}}}
	require.Error(t, owner.EnqueueJob(context.Background(), job))
}
