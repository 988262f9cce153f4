package queue

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"matdist/common/constants"
	"matdist/common/logger"
	"matdist/common/models"
)

const (
	// MaxPollTimeout ограничивает длительность одного длинного опроса.
	MaxPollTimeout = time.Minute
	// DefaultMaxBodyBytes ограничивает размер тела запроса на постановку в очередь.
	DefaultMaxBodyBytes int64 = 1 << 30
)

// Server публикует Memory по HTTP на loopback-адресе. Каждый запрос обязан
// нести общий секрет в заголовке X-Queue-Secret.
type Server struct {
	addr   string
	secret string
	store  *Memory
	srv    *http.Server
	ln     net.Listener

	maxBody int64
}

// NewServer создаёт сервер для store; слушать начинает Start.
func NewServer(addr, secret string, store *Memory) *Server {
	s := &Server{addr: addr, secret: secret, store: store, maxBody: DefaultMaxBodyBytes}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// WithMaxBody задаёт предельный размер тела запроса в байтах.
func (s *Server) WithMaxBody(n int64) *Server {
	if n > 0 {
		s.maxBody = n
	}
	return s
}

// Handler возвращает маршрутизатор с проверкой секрета.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.authenticate)

	r.HandleFunc("/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	r.HandleFunc("/v1/queues/"+constants.JobsQueue, s.handleEnqueueJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/queues/"+constants.JobsQueue, s.handleDequeueJob).Methods(http.MethodGet)
	r.HandleFunc("/v1/queues/"+constants.ResultsQueue, s.handleEnqueueResult).Methods(http.MethodPost)
	r.HandleFunc("/v1/queues/"+constants.ResultsQueue, s.handleDequeueResult).Methods(http.MethodGet)
	r.HandleFunc("/v1/queues/"+constants.ReadyQueue, s.handleSignalReady).Methods(http.MethodPost)
	r.HandleFunc("/v1/queues/"+constants.ReadyQueue, s.handleAwaitReady).Methods(http.MethodGet)
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(constants.SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			logger.Log("QueueServer", fmt.Sprintf("rejected %s %s from %s: bad secret", r.Method, r.URL.Path, r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start занимает адрес и обслуживает запросы в фоне. Ошибка занятого порта
// возвращается сразу.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	logger.Log("QueueServer", "listening on "+ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError("QueueServer", "serve failed", err)
		}
	}()
	return nil
}

// Addr: фактический адрес после Start (полезно при порте 0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Shutdown закрывает каналы (освобождая висящие опросы) и останавливает HTTP-сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.store.Close()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("queue server shutdown: %w", err)
	}
	logger.Log("QueueServer", "stopped")
	return nil
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var job models.Job
	if !s.decode(w, r, &job) {
		return
	}
	if !validMatrices(w, job.Chunk, job.Shared) {
		return
	}
	writeErr(w, s.store.EnqueueJob(r.Context(), job), http.StatusAccepted)
}

func (s *Server) handleDequeueJob(w http.ResponseWriter, r *http.Request) {
	timeout, ok := pollTimeout(w, r)
	if !ok {
		return
	}
	job, err := s.store.DequeueJob(r.Context(), timeout)
	respond(w, job, err)
}

func (s *Server) handleEnqueueResult(w http.ResponseWriter, r *http.Request) {
	var res models.Result
	if !s.decode(w, r, &res) {
		return
	}
	if !validMatrices(w, res.Product) {
		return
	}
	writeErr(w, s.store.EnqueueResult(r.Context(), res), http.StatusAccepted)
}

func (s *Server) handleDequeueResult(w http.ResponseWriter, r *http.Request) {
	timeout, ok := pollTimeout(w, r)
	if !ok {
		return
	}
	res, err := s.store.DequeueResultWithin(r.Context(), timeout)
	respond(w, res, err)
}

func (s *Server) handleSignalReady(w http.ResponseWriter, r *http.Request) {
	var sig models.ReadySignal
	if !s.decode(w, r, &sig) {
		return
	}
	writeErr(w, s.store.SignalReady(r.Context(), sig), http.StatusAccepted)
}

func (s *Server) handleAwaitReady(w http.ResponseWriter, r *http.Request) {
	timeout, ok := pollTimeout(w, r)
	if !ok {
		return
	}
	sig, err := s.store.AwaitReadyWithin(r.Context(), timeout)
	respond(w, sig, err)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func validMatrices(w http.ResponseWriter, ms ...models.Matrix) bool {
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			http.Error(w, "invalid matrix: "+err.Error(), http.StatusBadRequest)
			return false
		}
	}
	return true
}

func pollTimeout(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return constants.ResultPollWindow, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		http.Error(w, "invalid timeout", http.StatusBadRequest)
		return 0, false
	}
	if d > MaxPollTimeout {
		d = MaxPollTimeout
	}
	return d, true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeErr(w, err, 0)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogError("QueueServer", "encode response", err)
	}
}

// writeErr переводит ошибки очереди в HTTP-статусы; при err == nil пишет okStatus.
func writeErr(w http.ResponseWriter, err error, okStatus int) {
	switch {
	case err == nil:
		w.WriteHeader(okStatus)
	case errors.Is(err, ErrTimeout):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	case errors.Is(err, ErrClosed):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// клиент ушёл, отвечать некому
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
