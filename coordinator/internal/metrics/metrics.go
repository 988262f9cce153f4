// Package metrics содержит метрики Prometheus для сессий координатора.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matdist/common/logger"
)

const namespace = "matdist"

// Причины отбрасывания результата
const (
	DropDuplicate  = "duplicate"
	DropUnknownJob = "unknown_job"
	DropMalformed  = "malformed"
)

// Metrics: счётчики одного координатора.
type Metrics struct {
	JobsDispatched   prometheus.Counter
	ResultsCollected prometheus.Counter
	DroppedResults   *prometheus.CounterVec
	Reassignments    prometheus.Counter
	Sessions         *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
}

// New создаёт и регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Chunk jobs published to the job channel, reassignments included.",
		}),
		ResultsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_collected_total",
			Help:      "Results written into the result slot array.",
		}),
		DroppedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_dropped_total",
			Help:      "Results not written into a slot, by reason.",
		}, []string{"reason"}),
		Reassignments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_reassignments_total",
			Help:      "Jobs re-published after missing their deadline.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by outcome.",
		}, []string{"outcome"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall clock duration of a distributed session.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	reg.MustRegister(
		m.JobsDispatched,
		m.ResultsCollected,
		m.DroppedResults,
		m.Reassignments,
		m.Sessions,
		m.SessionDuration,
	)
	return m
}

// ObserveSession фиксирует итог сессии.
func (m *Metrics) ObserveSession(outcome string, elapsed time.Duration) {
	m.Sessions.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(elapsed.Seconds())
}

// Dropped учитывает отброшенный результат.
func (m *Metrics) Dropped(reason string) {
	m.DroppedResults.WithLabelValues(reason).Inc()
}

// Serve поднимает /metrics на addr в фоне и возвращает сервер для остановки.
func Serve(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Log("Metrics", "serving /metrics on "+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError("Metrics", "metrics server failed", err)
		}
	}()
	return srv
}
