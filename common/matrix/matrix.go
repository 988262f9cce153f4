// Package matrix содержит примитивы над models.Matrix: векторизованное умножение
// (gonum) и операции над блоками строк.
package matrix

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"matdist/common/models"
)

// Multiply вычисляет a·b. При несовпадении размерностей возвращает ошибку.
func Multiply(a, b models.Matrix) (models.Matrix, error) {
	if err := a.Validate(); err != nil {
		return models.Matrix{}, fmt.Errorf("left operand: %w", err)
	}
	if err := b.Validate(); err != nil {
		return models.Matrix{}, fmt.Errorf("right operand: %w", err)
	}
	if a.Cols != b.Rows {
		return models.Matrix{}, fmt.Errorf("dimension mismatch: %dx%d · %dx%d", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	// gonum не допускает матриц нулевого размера
	if a.Rows == 0 || b.Cols == 0 || a.Cols == 0 {
		return models.NewMatrix(a.Rows, b.Cols), nil
	}

	da := mat.NewDense(a.Rows, a.Cols, a.Data)
	db := mat.NewDense(b.Rows, b.Cols, b.Data)
	out := mat.NewDense(a.Rows, b.Cols, nil)
	out.Mul(da, db)

	res := models.NewMatrix(a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		copy(res.Data[i*b.Cols:(i+1)*b.Cols], out.RawRowView(i))
	}
	return res, nil
}

// Slice возвращает копию строк [start, end).
func Slice(m models.Matrix, start, end int) (models.Matrix, error) {
	if start < 0 || end < start || end > m.Rows {
		return models.Matrix{}, fmt.Errorf("row range [%d,%d) out of bounds for %d rows", start, end, m.Rows)
	}
	out := models.NewMatrix(end-start, m.Cols)
	copy(out.Data, m.Data[start*m.Cols:end*m.Cols])
	return out, nil
}

// VStack склеивает блоки строк по вертикали в заданном порядке.
func VStack(blocks ...models.Matrix) (models.Matrix, error) {
	if len(blocks) == 0 {
		return models.Matrix{}, fmt.Errorf("nothing to stack")
	}
	cols := blocks[0].Cols
	rows := 0
	for i, b := range blocks {
		if b.Cols != cols {
			return models.Matrix{}, fmt.Errorf("block %d has %d columns, want %d", i, b.Cols, cols)
		}
		rows += b.Rows
	}
	out := models.NewMatrix(rows, cols)
	offset := 0
	for _, b := range blocks {
		copy(out.Data[offset:], b.Data)
		offset += len(b.Data)
	}
	return out, nil
}

// Random генерирует матрицу со значениями из [0, 1).
func Random(rows, cols int, rng *rand.Rand) models.Matrix {
	m := models.NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = rng.Float64()
	}
	return m
}

// Identity возвращает единичную матрицу n×n.
func Identity(n int) models.Matrix {
	m := models.NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// EqualApprox сравнивает матрицы поэлементно с абсолютным допуском tol.
func EqualApprox(a, b models.Matrix, tol float64) bool {
	if a.Rows != b.Rows || a.Cols != b.Cols || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if math.Abs(a.Data[i]-b.Data[i]) > tol {
			return false
		}
	}
	return true
}
