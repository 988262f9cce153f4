package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"matdist/common/constants"
	"matdist/common/logger"
	"matdist/common/matrix"
	"matdist/common/mongodb"
	"matdist/common/queue"
	"matdist/common/queue/amqpqueue"
	"matdist/coordinator/internal/config"
	"matdist/coordinator/internal/launcher"
	"matdist/coordinator/internal/ledger"
	"matdist/coordinator/internal/metrics"
	"matdist/coordinator/internal/session"
)

const verifyTolerance = 1e-9

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if workersFlag > 0 {
		cfg.Workers = workersFlag
	}
	if sizeFlag < 1 {
		return fmt.Errorf("--size must be positive, got %d", sizeFlag)
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	rng := rand.New(rand.NewPCG(seedFlag, seedFlag^0x9e3779b97f4a7c15))
	a := matrix.Random(sizeFlag, sizeFlag, rng)
	b := matrix.Random(sizeFlag, sizeFlag, rng)

	svc, teardown, err := openQueue(&cfg, sessionID)
	if err != nil {
		return err
	}
	l, err := newLauncher(cfg, sessionID)
	if err != nil {
		_ = teardown(context.WithoutCancel(ctx))
		return err
	}

	reg := prometheus.NewRegistry()
	opts := []session.Option{
		session.WithID(sessionID),
		session.WithTeardown(teardown),
		session.WithMetrics(metrics.New(reg)),
	}
	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr, reg)
		defer shutdownHTTP(srv)
	}
	rec, closeRec := openLedger(ctx, cfg)
	if rec != nil {
		defer closeRec()
		opts = append(opts, session.WithRecorder(rec))
	}

	s := session.New(session.Config{
		Workers:       cfg.Workers,
		ReadyTimeout:  cfg.ReadyTimeout,
		JobDeadline:   cfg.JobDeadline,
		MaxAttempts:   cfg.MaxAttempts,
		ShutdownGrace: cfg.ShutdownGrace,
	}, svc, l, opts...)

	out, err := s.Run(ctx, a, b)
	w := cmd.OutOrStdout()
	if rec != nil {
		reportLedger(context.WithoutCancel(ctx), w, rec, sessionID)
	}
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	fmt.Fprintf(w, "session %s: %dx%d x %dx%d, %d workers, %d chunks\n",
		sessionID, a.Rows, a.Cols, b.Rows, b.Cols, out.Workers, len(out.Chunks))
	fmt.Fprintf(w, "distributed: %s (reassigned %d)\n", out.Elapsed, out.Reassigned)

	if verifyFlag {
		start := time.Now()
		want, err := matrix.Multiply(a, b)
		if err != nil {
			return fmt.Errorf("direct product: %w", err)
		}
		fmt.Fprintf(w, "single process: %s\n", time.Since(start))
		if !matrix.EqualApprox(want, out.Product, verifyTolerance) {
			return errors.New("distributed product differs from the direct product")
		}
		fmt.Fprintln(w, "verify: ok")
	}
	return nil
}

// openQueue поднимает QueueService сессии и возвращает функцию его остановки.
// Для HTTP-бэкенда фактический адрес записывается обратно в cfg для воркеров.
func openQueue(cfg *config.Config, sessionID string) (queue.Service, func(context.Context) error, error) {
	switch cfg.Backend {
	case constants.BackendAMQP:
		svc, err := amqpqueue.Open(amqpqueue.Options{
			URI:            cfg.RabbitURI,
			SessionID:      sessionID,
			Owner:          true,
			ConnectTimeout: cfg.AttachTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open amqp queue: %w", err)
		}
		return svc, func(context.Context) error { return svc.Close() }, nil
	default:
		store := queue.NewMemory()
		srv := queue.NewServer(cfg.Addr, cfg.Secret, store)
		if err := srv.Start(); err != nil {
			return nil, nil, err
		}
		cfg.Addr = srv.Addr()
		return store, srv.Shutdown, nil
	}
}

func newLauncher(cfg config.Config, sessionID string) (launcher.Launcher, error) {
	if inprocessFlag {
		return &launcher.Func{Run: func(ctx context.Context, index int) error {
			return runWorker(ctx, cfg, sessionID, index)
		}}, nil
	}
	bin, err := cfg.ResolveWorkerBinary()
	if err != nil {
		return nil, err
	}
	return &launcher.Process{Binary: bin, Env: cfg.WorkerEnv(sessionID), Stdout: os.Stderr}, nil
}

// openLedger подключает журнал в MongoDB. Журнал необязателен: при ошибке сессия идёт без него.
func openLedger(ctx context.Context, cfg config.Config) (*ledger.Mongo, func()) {
	if cfg.MongoURI == "" {
		return nil, nil
	}
	client, db, err := mongodb.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Warn().Err(err).Str("component", "Coordinator").Msg("session ledger disabled")
		return nil, nil
	}
	return ledger.NewMongo(db), func() {
		dctx, cancel := context.WithTimeout(context.Background(), constants.ContextTimeout)
		defer cancel()
		_ = client.Disconnect(dctx)
	}
}

// reportLedger печатает итоговую запись сессии из журнала.
func reportLedger(ctx context.Context, w io.Writer, rec *ledger.Mongo, sessionID string) {
	doc, err := rec.Get(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("component", "Coordinator").Msg("read session ledger")
		return
	}
	fmt.Fprintf(w, "ledger: %s, %d/%d chunks completed\n", doc.Status, doc.CompletedCount, doc.ChunkCount)
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ContextTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
