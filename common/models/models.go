package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// SentinelID: зарезервированный идентификатор задания-остановки на проводе.
const SentinelID = -1

// Matrix: плотная матрица в построчном порядке.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// NewMatrix создаёт нулевую матрицу rows×cols.
func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At возвращает элемент (i, j).
func (m Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set записывает элемент (i, j).
func (m Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// Validate проверяет согласованность формы и данных.
func (m Matrix) Validate() error {
	if m.Rows < 0 || m.Cols < 0 {
		return fmt.Errorf("negative shape %dx%d", m.Rows, m.Cols)
	}
	if m.Cols > 0 && m.Rows > math.MaxInt/m.Cols {
		return fmt.Errorf("shape %dx%d overflows element count", m.Rows, m.Cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("shape %dx%d does not match %d elements", m.Rows, m.Cols, len(m.Data))
	}
	return nil
}

// Bytes: размер полезной нагрузки в байтах.
func (m Matrix) Bytes() int {
	return len(m.Data) * 8
}

// MarshalJSON отклоняет NaN и Inf: форма и значения должны пережить передачу без потерь.
func (m Matrix) MarshalJSON() ([]byte, error) {
	for i, v := range m.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("matrix element %d is not finite", i)
		}
	}
	type plain Matrix
	return json.Marshal(plain(m))
}

// JobKind различает вычислительное задание и сигнал остановки.
type JobKind string

const (
	JobCompute JobKind = "compute"
	JobStop    JobKind = "stop"
)

// Job описывает единицу работы: блок строк левой матрицы и общая правая матрица.
type Job struct {
	Kind      JobKind `json:"kind"`
	ID        int     `json:"id"`
	Attempt   int     `json:"attempt"`
	SessionID string  `json:"sessionId,omitempty"`
	Chunk     Matrix  `json:"chunk"`
	Shared    Matrix  `json:"shared"`
}

// StopJob возвращает задание-остановку.
func StopJob(sessionID string) Job {
	return Job{Kind: JobStop, ID: SentinelID, SessionID: sessionID}
}

// IsStop сообщает, что задание означает «остановиться».
func (j Job) IsStop() bool {
	return j.Kind == JobStop
}

// Result: произведение блока, помеченное идентификатором задания.
type Result struct {
	JobID    int    `json:"jobId"`
	WorkerID string `json:"workerId"`
	Attempt  int    `json:"attempt"`
	Product  Matrix `json:"product"`
}

// ReadySignal отправляется воркером после успешного подключения к очереди.
type ReadySignal struct {
	WorkerID string `json:"workerId"`
	PID      int    `json:"pid"`
}

// MarshalJob сериализует Job в JSON.
func MarshalJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

// UnmarshalJob десериализует JSON-данные в Job.
func UnmarshalJob(data []byte, job *Job) error {
	return json.Unmarshal(data, job)
}

// MarshalResult сериализует Result в JSON.
func MarshalResult(res Result) ([]byte, error) {
	return json.Marshal(res)
}

// UnmarshalResult десериализует JSON-данные в Result.
func UnmarshalResult(data []byte, res *Result) error {
	return json.Unmarshal(data, res)
}

// MarshalReady сериализует ReadySignal в JSON.
func MarshalReady(sig ReadySignal) ([]byte, error) {
	return json.Marshal(sig)
}

// UnmarshalReady десериализует JSON-данные в ReadySignal.
func UnmarshalReady(data []byte, sig *ReadySignal) error {
	return json.Unmarshal(data, sig)
}
