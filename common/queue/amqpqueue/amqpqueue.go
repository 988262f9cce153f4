// Package amqpqueue реализует queue.Service поверх RabbitMQ.
// Учётные данные в URI играют роль общего секрета.
package amqpqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"matdist/common/amqputil"
	"matdist/common/constants"
	"matdist/common/models"
	"matdist/common/queue"
)

// Service хранит одно соединение и один канал; канал защищён мьютексом.
type Service struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.Mutex
	names  map[string]string
	owner  bool
	poll   time.Duration
	closed bool
}

var _ queue.Service = (*Service)(nil)

// Options управляют подключением.
type Options struct {
	URI       string
	SessionID string
	// Owner означает координатора: при Close удаляет очереди сессии.
	Owner bool
	// ConnectTimeout ограничивает суммарное время попыток подключения.
	ConnectTimeout time.Duration
}

// Open подключается к брокеру и объявляет очереди сессии.
func Open(opts Options) (*Service, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = constants.DefaultAttachTimeout
	}
	conn, err := amqputil.ConnectRabbitMQ(opts.URI, timeout)
	if err != nil {
		if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) {
			return nil, fmt.Errorf("%w: %v", queue.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("%w: %v", queue.ErrConnectionRefused, err)
	}

	names := map[string]string{
		constants.JobsQueue:    amqputil.QueueName(opts.SessionID, constants.JobsQueue),
		constants.ResultsQueue: amqputil.QueueName(opts.SessionID, constants.ResultsQueue),
		constants.ReadyQueue:   amqputil.QueueName(opts.SessionID, constants.ReadyQueue),
	}
	ch, err := amqputil.CreateChannel(conn, names[constants.JobsQueue], names[constants.ResultsQueue], names[constants.ReadyQueue])
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Service{
		conn:  conn,
		ch:    ch,
		names: names,
		owner: opts.Owner,
		poll:  constants.AMQPPollInterval,
	}, nil
}

func (s *Service) EnqueueJob(ctx context.Context, job models.Job) error {
	data, err := models.MarshalJob(job)
	if err != nil {
		return fmt.Errorf("marshal job %d: %w", job.ID, err)
	}
	return s.publish(ctx, constants.JobsQueue, data)
}

func (s *Service) DequeueJob(ctx context.Context, timeout time.Duration) (models.Job, error) {
	var job models.Job
	body, err := s.get(ctx, constants.JobsQueue, timeout)
	if err != nil {
		return job, err
	}
	return job, s.decodeErr(constants.JobsQueue, models.UnmarshalJob(body, &job))
}

func (s *Service) EnqueueResult(ctx context.Context, res models.Result) error {
	data, err := models.MarshalResult(res)
	if err != nil {
		return fmt.Errorf("marshal result %d: %w", res.JobID, err)
	}
	return s.publish(ctx, constants.ResultsQueue, data)
}

func (s *Service) DequeueResult(ctx context.Context) (models.Result, error) {
	var res models.Result
	body, err := s.get(ctx, constants.ResultsQueue, 0)
	if err != nil {
		return res, err
	}
	return res, s.decodeErr(constants.ResultsQueue, models.UnmarshalResult(body, &res))
}

func (s *Service) SignalReady(ctx context.Context, sig models.ReadySignal) error {
	data, err := models.MarshalReady(sig)
	if err != nil {
		return fmt.Errorf("marshal ready signal: %w", err)
	}
	return s.publish(ctx, constants.ReadyQueue, data)
}

func (s *Service) AwaitReady(ctx context.Context) (models.ReadySignal, error) {
	var sig models.ReadySignal
	body, err := s.get(ctx, constants.ReadyQueue, 0)
	if err != nil {
		return sig, err
	}
	return sig, s.decodeErr(constants.ReadyQueue, models.UnmarshalReady(body, &sig))
}

// Close закрывает канал и соединение; владелец сессии предварительно удаляет очереди.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.owner {
		for _, name := range s.names {
			if _, err := s.ch.QueueDelete(name, false, false, false); err != nil {
				errs = append(errs, fmt.Errorf("delete queue %s: %w", name, err))
			}
		}
	}
	if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, queueKey string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queue.ErrClosed
	}
	err := s.ch.Publish("", s.names[queueKey], false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		return s.mapErr(err)
	}
	return nil
}

// get опрашивает очередь basic.get с auto-ack: каждое сообщение получает ровно один потребитель.
func (s *Service) get(ctx context.Context, queueKey string, timeout time.Duration) ([]byte, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		d, ok, err := s.tryGet(queueKey)
		if err != nil {
			return nil, err
		}
		if ok {
			return d.Body, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, queue.ErrTimeout
		case <-ticker.C:
		}
	}
}

func (s *Service) decodeErr(queueKey string, err error) error {
	if err != nil {
		return fmt.Errorf("decode message from %s: %w", s.names[queueKey], err)
	}
	return nil
}

func (s *Service) tryGet(queueKey string) (amqp.Delivery, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return amqp.Delivery{}, false, queue.ErrClosed
	}
	d, ok, err := s.ch.Get(s.names[queueKey], true)
	if err != nil {
		return amqp.Delivery{}, false, s.mapErr(err)
	}
	return d, ok, nil
}

// mapErr: удалённая очередь (404) или закрытое соединение означают конец сессии.
func (s *Service) mapErr(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
		return fmt.Errorf("%w: %v", queue.ErrClosed, err)
	}
	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("%w: %v", queue.ErrClosed, err)
	}
	return err
}
