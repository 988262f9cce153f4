package session

import (
	"errors"
	"fmt"

	"matdist/common/matrix"
	"matdist/common/models"
)

// ErrIncomplete: попытка собрать матрицу при незаполненных слотах.
var ErrIncomplete = errors.New("result slots are not all filled")

// Slots: массив слотов результатов, индексируемый идентификатором задания.
// Каждый слот записывается один раз; читается только после заполнения всех.
type Slots struct {
	products []models.Matrix
	filled   []bool
	count    int
}

func NewSlots(n int) *Slots {
	return &Slots{
		products: make([]models.Matrix, n),
		filled:   make([]bool, n),
	}
}

// Len: число слотов.
func (s *Slots) Len() int {
	return len(s.products)
}

// Put записывает произведение в слот id. Возвращает false для повторного результата.
func (s *Slots) Put(id int, product models.Matrix) (bool, error) {
	if id < 0 || id >= len(s.products) {
		return false, fmt.Errorf("job id %d outside [0,%d)", id, len(s.products))
	}
	if s.filled[id] {
		return false, nil
	}
	s.products[id] = product
	s.filled[id] = true
	s.count++
	return true, nil
}

// Filled сообщает, заполнен ли слот id.
func (s *Slots) Filled(id int) bool {
	return id >= 0 && id < len(s.filled) && s.filled[id]
}

// Full: все слоты заполнены.
func (s *Slots) Full() bool {
	return s.count == len(s.products)
}

// Missing возвращает идентификаторы незаполненных слотов.
func (s *Slots) Missing() []int {
	var out []int
	for id, ok := range s.filled {
		if !ok {
			out = append(out, id)
		}
	}
	return out
}

// Assemble склеивает слоты в порядке идентификаторов.
func (s *Slots) Assemble() (models.Matrix, error) {
	if !s.Full() {
		return models.Matrix{}, fmt.Errorf("%w: missing %v", ErrIncomplete, s.Missing())
	}
	return matrix.VStack(s.products...)
}
