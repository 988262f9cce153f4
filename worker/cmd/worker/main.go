package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"matdist/common/constants"
	"matdist/common/logger"
	"matdist/common/queue"
	"matdist/common/queue/amqpqueue"
	"matdist/worker/config"
	"matdist/worker/consumer"
	"matdist/worker/processor"
)

func main() {
	os.Exit(run())
}

// run возвращает код выхода: 0 при штатной остановке, 1 при сбое, 2 при ошибке конфигурации.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		return 2
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	workerID := uuid.NewString()
	logger.Log("Worker", fmt.Sprintf("starting worker %s (pid %d)", workerID, os.Getpid()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openQueue(cfg)
	if err != nil {
		log.Warn().Err(err).Str("component", "Worker").Str("worker", workerID).
			Msg("cannot reach queue service, exiting without work")
		return 1
	}
	defer svc.Close()

	var opts []processor.Option
	if cfg.SimulateTransfer {
		opts = append(opts, processor.WithTransferDelay(processor.SimulatedTransfer(cfg.TransferPerMiB)))
	}
	proc := processor.New(workerID, opts...)

	report := consumer.New(consumer.Config{
		WorkerID:       workerID,
		JobWaitTimeout: cfg.JobWaitTimeout,
		AttachTimeout:  cfg.AttachTimeout,
	}, svc, proc).Run(ctx)

	if !report.Reason.Clean() {
		return 1
	}
	return 0
}

func openQueue(cfg config.Config) (queue.Service, error) {
	switch cfg.Backend {
	case constants.BackendAMQP:
		return amqpqueue.Open(amqpqueue.Options{
			URI:            cfg.RabbitURI,
			SessionID:      cfg.SessionID,
			ConnectTimeout: cfg.AttachTimeout,
		})
	default:
		return queue.NewClient(cfg.Addr, cfg.Secret), nil
	}
}
