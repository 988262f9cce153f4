// Package partition делит строки левой матрицы на непрерывные блоки.
package partition

import (
	"fmt"

	"matdist/common/constants"
)

// Bounds: полуинтервал строк [Start, End).
type Bounds struct {
	Start int
	End   int
}

// Size: число строк в блоке.
func (b Bounds) Size() int {
	return b.End - b.Start
}

// ChunkCount: число чанков для заданного количества воркеров.
// Блоков больше, чем воркеров: быстрые воркеры успевают забрать больше.
func ChunkCount(workers int) int {
	return workers * constants.ChunksPerWorker
}

// Split делит [0, rows) на chunks непрерывных блоков размера rows/chunks;
// последний блок забирает остаток.
func Split(rows, chunks int) ([]Bounds, error) {
	if rows < 1 {
		return nil, fmt.Errorf("rows must be positive, got %d", rows)
	}
	if chunks < 1 {
		return nil, fmt.Errorf("chunk count must be positive, got %d", chunks)
	}
	size := rows / chunks
	out := make([]Bounds, chunks)
	for i := 0; i < chunks; i++ {
		start := i * size
		end := (i + 1) * size
		if i == chunks-1 {
			end = rows
		}
		out[i] = Bounds{Start: start, End: end}
	}
	return out, nil
}
