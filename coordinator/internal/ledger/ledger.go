// Package ledger ведёт журнал сессии: статус каждого чанка и итог сессии.
// Журнал только для аудита: сессии по нему не возобновляются.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Статусы сессии
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFail       = "FAIL"
)

// Статусы чанка
const (
	ChunkReceived   = "RECEIVED"
	ChunkPublished  = "PUBLISHED"
	ChunkReassigned = "REASSIGNED"
	ChunkComplete   = "COMPLETE"
)

// SessionDoc: документ сессии.
type SessionDoc struct {
	SessionID      string    `bson:"sessionId"`
	Status         string    `bson:"status"` // IN_PROGRESS, DONE, FAIL
	Rows           int       `bson:"rows"`
	Inner          int       `bson:"inner"`
	Cols           int       `bson:"cols"`
	Workers        int       `bson:"workers"`
	ChunkCount     int       `bson:"chunkCount"`
	CompletedCount int       `bson:"completedCount"`
	Chunks         []Chunk   `bson:"chunks"`
	Error          string    `bson:"error,omitempty"`
	ElapsedMs      int64     `bson:"elapsedMs"`
	CreatedAt      time.Time `bson:"createdAt"`
	FinishedAt     time.Time `bson:"finishedAt,omitempty"`
}

// Chunk: блок строк сессии; идентифицируется по jobId.
type Chunk struct {
	JobID     int       `bson:"jobId"`
	StartRow  int       `bson:"startRow"`
	EndRow    int       `bson:"endRow"`
	Status    string    `bson:"status"` // RECEIVED, PUBLISHED, REASSIGNED, COMPLETE
	Attempts  int       `bson:"attempts"`
	WorkerID  string    `bson:"workerId,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// Recorder получает события сессии. Ошибки записи не должны ломать сессию.
type Recorder interface {
	Begin(ctx context.Context, doc SessionDoc) error
	Published(ctx context.Context, sessionID string, jobID, attempt int) error
	Reassigned(ctx context.Context, sessionID string, jobID, attempt int) error
	Completed(ctx context.Context, sessionID string, jobID int, workerID string) error
	Finish(ctx context.Context, sessionID, status string, elapsed time.Duration, cause error) error
}

// Nop ничего не записывает.
type Nop struct{}

func (Nop) Begin(context.Context, SessionDoc) error { return nil }

func (Nop) Published(context.Context, string, int, int) error { return nil }

func (Nop) Reassigned(context.Context, string, int, int) error { return nil }

func (Nop) Completed(context.Context, string, int, string) error { return nil }

func (Nop) Finish(context.Context, string, string, time.Duration, error) error { return nil }

// Memory хранит документы в памяти процесса.
type Memory struct {
	mu   sync.Mutex
	docs map[string]*SessionDoc
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*SessionDoc)}
}

// Get возвращает копию документа сессии.
func (m *Memory) Get(sessionID string) (SessionDoc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[sessionID]
	if !ok {
		return SessionDoc{}, false
	}
	cp := *doc
	cp.Chunks = append([]Chunk(nil), doc.Chunks...)
	return cp, true
}

func (m *Memory) Begin(_ context.Context, doc SessionDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := doc
	cp.Chunks = append([]Chunk(nil), doc.Chunks...)
	m.docs[doc.SessionID] = &cp
	return nil
}

func (m *Memory) Published(_ context.Context, sessionID string, jobID, attempt int) error {
	return m.updateChunk(sessionID, jobID, func(c *Chunk) {
		c.Status = ChunkPublished
		c.Attempts = attempt
	})
}

func (m *Memory) Reassigned(_ context.Context, sessionID string, jobID, attempt int) error {
	return m.updateChunk(sessionID, jobID, func(c *Chunk) {
		c.Status = ChunkReassigned
		c.Attempts = attempt
	})
}

func (m *Memory) Completed(_ context.Context, sessionID string, jobID int, workerID string) error {
	return m.updateChunk(sessionID, jobID, func(c *Chunk) {
		c.Status = ChunkComplete
		c.WorkerID = workerID
	}, func(doc *SessionDoc) {
		doc.CompletedCount++
	})
}

func (m *Memory) Finish(_ context.Context, sessionID, status string, elapsed time.Duration, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	doc.Status = status
	doc.ElapsedMs = elapsed.Milliseconds()
	doc.FinishedAt = time.Now()
	if cause != nil {
		doc.Error = cause.Error()
	}
	return nil
}

func (m *Memory) updateChunk(sessionID string, jobID int, fn func(*Chunk), docFns ...func(*SessionDoc)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	for i := range doc.Chunks {
		if doc.Chunks[i].JobID == jobID {
			fn(&doc.Chunks[i])
			doc.Chunks[i].UpdatedAt = time.Now()
			for _, f := range docFns {
				f(doc)
			}
			return nil
		}
	}
	return fmt.Errorf("chunk %d not found in session %s", jobID, sessionID)
}
