package matrix

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matdist/common/models"
)

func TestMultiply(t *testing.T) {
	a := models.Matrix{Rows: 2, Cols: 2, Data: []float64{1, 2, 3, 4}}
	b := models.Matrix{Rows: 2, Cols: 2, Data: []float64{5, 6, 7, 8}}

	got, err := Multiply(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{19, 22, 43, 50}, got.Data)
	assert.Equal(t, 2, got.Rows)
	assert.Equal(t, 2, got.Cols)
}

func TestMultiplyDimensionMismatch(t *testing.T) {
	_, err := Multiply(models.NewMatrix(2, 3), models.NewMatrix(2, 3))
	require.Error(t, err)
}

func TestMultiplyEmptyChunk(t *testing.T) {
	got, err := Multiply(models.NewMatrix(0, 3), models.NewMatrix(3, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Rows)
	assert.Equal(t, 4, got.Cols)
	assert.Empty(t, got.Data)
}

func TestSliceAndVStackRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	m := Random(7, 3, rng)

	top, err := Slice(m, 0, 3)
	require.NoError(t, err)
	mid, err := Slice(m, 3, 3)
	require.NoError(t, err)
	bottom, err := Slice(m, 3, 7)
	require.NoError(t, err)

	got, err := VStack(top, mid, bottom)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestSliceOutOfBounds(t *testing.T) {
	_, err := Slice(models.NewMatrix(3, 3), 2, 4)
	require.Error(t, err)
}

func TestVStackColumnMismatch(t *testing.T) {
	_, err := VStack(models.NewMatrix(1, 2), models.NewMatrix(1, 3))
	require.Error(t, err)
}

func TestIdentityIsNeutral(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	m := Random(5, 5, rng)

	got, err := Multiply(Identity(5), m)
	require.NoError(t, err)
	assert.True(t, EqualApprox(m, got, 1e-12))
}

func TestMatrixJSONPreservesValues(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	m := Random(4, 3, rng)
	m.Data[0] = math.SmallestNonzeroFloat64
	m.Data[1] = -1.0 / 3.0

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var back models.Matrix
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, m, back)
}

func TestMatrixJSONRejectsNaN(t *testing.T) {
	m := models.NewMatrix(1, 1)
	m.Data[0] = math.NaN()
	_, err := json.Marshal(m)
	require.Error(t, err)
}
