package main

import (
	"context"
	"fmt"

	"matdist/common/constants"
	"matdist/common/queue"
	"matdist/common/queue/amqpqueue"
	"matdist/coordinator/internal/config"
	"matdist/worker/consumer"
	"matdist/worker/processor"
)

// runWorker: воркер в виде горутины для --inprocess. Подключается к очереди
// так же, как отдельный процесс: через HTTP или брокер.
func runWorker(ctx context.Context, cfg config.Config, sessionID string, index int) error {
	workerID := fmt.Sprintf("%s-w%d", sessionID[:8], index)

	var svc queue.Service
	switch cfg.Backend {
	case constants.BackendAMQP:
		s, err := amqpqueue.Open(amqpqueue.Options{
			URI:            cfg.RabbitURI,
			SessionID:      sessionID,
			ConnectTimeout: cfg.AttachTimeout,
		})
		if err != nil {
			return err
		}
		svc = s
	default:
		svc = queue.NewClient(cfg.Addr, cfg.Secret)
	}
	defer svc.Close()

	var opts []processor.Option
	if cfg.SimulateTransfer {
		opts = append(opts, processor.WithTransferDelay(processor.SimulatedTransfer(cfg.TransferPerMiB)))
	}
	report := consumer.New(consumer.Config{
		WorkerID:       workerID,
		JobWaitTimeout: cfg.JobWaitTimeout,
		AttachTimeout:  cfg.AttachTimeout,
	}, svc, processor.New(workerID, opts...)).Run(ctx)

	if report.Reason.Clean() {
		return nil
	}
	return fmt.Errorf("%s: %v", report.Reason, report.Err)
}
