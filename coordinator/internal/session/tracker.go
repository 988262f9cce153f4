package session

import (
	"sort"
	"time"
)

// tracker следит за сроками невыполненных заданий; аналог проверки
// «зависших» подзадач с переотправкой.
type tracker struct {
	enabled     bool
	outstanding map[int]time.Time
	attempts    []int
}

func newTracker(n int, enabled bool) *tracker {
	return &tracker{
		enabled:     enabled,
		outstanding: make(map[int]time.Time, n),
		attempts:    make([]int, n),
	}
}

// dispatched отмечает публикацию очередной попытки задания id, которое
// должно быть выполнено в пределах allowance от момента at.
func (t *tracker) dispatched(id int, at time.Time, allowance time.Duration) int {
	t.attempts[id]++
	t.outstanding[id] = at.Add(allowance)
	return t.attempts[id]
}

func (t *tracker) complete(id int) {
	delete(t.outstanding, id)
}

func (t *tracker) attempt(id int) int {
	return t.attempts[id]
}

func (t *tracker) total() int {
	return len(t.attempts)
}

func (t *tracker) pending() int {
	return len(t.outstanding)
}

// unfinished возвращает невыполненные задания по возрастанию id.
func (t *tracker) unfinished() []int {
	out := make([]int, 0, len(t.outstanding))
	for id := range t.outstanding {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// nextDeadline возвращает ближайший срок среди невыполненных заданий.
func (t *tracker) nextDeadline() (time.Time, bool) {
	if !t.enabled || len(t.outstanding) == 0 {
		return time.Time{}, false
	}
	var next time.Time
	for _, due := range t.outstanding {
		if next.IsZero() || due.Before(next) {
			next = due
		}
	}
	return next, true
}

// expired возвращает просроченные задания по возрастанию id.
func (t *tracker) expired(now time.Time) []int {
	if !t.enabled {
		return nil
	}
	var out []int
	for id, due := range t.outstanding {
		if !now.Before(due) {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
