package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matdist/common/matrix"
	"matdist/common/models"
)

func TestProcessComputesProduct(t *testing.T) {
	p := New("w1")
	job := models.Job{
		Kind:    models.JobCompute,
		ID:      2,
		Attempt: 1,
		Chunk:   models.Matrix{Rows: 1, Cols: 2, Data: []float64{1, 2}},
		Shared:  models.Matrix{Rows: 2, Cols: 2, Data: []float64{3, 4, 5, 6}},
	}

	res, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, res.JobID)
	assert.Equal(t, 1, res.Attempt)
	assert.Equal(t, "w1", res.WorkerID)
	assert.Equal(t, []float64{13, 16}, res.Product.Data)
}

func TestProcessDimensionMismatchIsComputeFailure(t *testing.T) {
	p := New("w1")
	job := models.Job{Kind: models.JobCompute, Chunk: models.NewMatrix(1, 3), Shared: models.NewMatrix(2, 2)}

	_, err := p.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrCompute)
}

func TestProcessMalformedMatrix(t *testing.T) {
	p := New("w1")
	job := models.Job{Kind: models.JobCompute, Chunk: models.Matrix{Rows: 2, Cols: 2, Data: []float64{1}}, Shared: models.NewMatrix(2, 2)}

	_, err := p.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrCompute)
}

func TestProcessRecoversPanickingMultiplier(t *testing.T) {
	p := New("w1", WithMultiplier(func(a, b models.Matrix) (models.Matrix, error) {
		panic("boom")
	}))
	job := models.Job{Kind: models.JobCompute, Chunk: models.NewMatrix(1, 1), Shared: models.NewMatrix(1, 1)}

	_, err := p.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrCompute)
}

func TestProcessMultiplierError(t *testing.T) {
	p := New("w1", WithMultiplier(func(a, b models.Matrix) (models.Matrix, error) {
		return models.Matrix{}, errors.New("device lost")
	}))
	job := models.Job{Kind: models.JobCompute, Chunk: models.NewMatrix(1, 1), Shared: models.NewMatrix(1, 1)}

	_, err := p.Process(context.Background(), job)
	require.ErrorIs(t, err, ErrCompute)
}

func TestProcessRejectsSentinel(t *testing.T) {
	_, err := New("w1").Process(context.Background(), models.StopJob(""))
	require.ErrorIs(t, err, ErrCompute)
}

func TestTransferDelayIsApplied(t *testing.T) {
	p := New("w1", WithTransferDelay(func(models.Job) time.Duration { return 30 * time.Millisecond }))
	job := models.Job{Kind: models.JobCompute, Chunk: matrix.Identity(2), Shared: matrix.Identity(2)}

	start := time.Now()
	_, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTransferDelayHonoursCancel(t *testing.T) {
	p := New("w1", WithTransferDelay(func(models.Job) time.Duration { return time.Hour }))
	job := models.Job{Kind: models.JobCompute, Chunk: matrix.Identity(1), Shared: matrix.Identity(1)}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Process(ctx, job)
	require.ErrorIs(t, err, ErrCompute)
}

func TestSimulatedTransferScalesWithPayload(t *testing.T) {
	delay := SimulatedTransfer(50 * time.Millisecond)
	// 128×1024 float64 = 1 MiB
	job := models.Job{Chunk: models.NewMatrix(128, 1024), Shared: models.NewMatrix(128, 1024)}
	assert.Equal(t, 100*time.Millisecond, delay(job))
	assert.Equal(t, time.Duration(0), delay(models.Job{}))
}

func TestSimulatedTransferDefaultRate(t *testing.T) {
	job := models.Job{Chunk: models.NewMatrix(128, 1024)}
	assert.Equal(t, 50*time.Millisecond, SimulatedTransfer(0)(job))
}
