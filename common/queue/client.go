package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"matdist/common/constants"
	"matdist/common/models"
)

// Client: Service поверх HTTP-сервера очереди, используется воркерами.
type Client struct {
	rc         *resty.Client
	pollWindow time.Duration
}

var _ Service = (*Client)(nil)

// NewClient создаёт клиента к addr с общим секретом secret.
func NewClient(addr, secret string) *Client {
	rc := resty.New().
		SetBaseURL("http://"+addr).
		SetHeader(constants.SecretHeader, secret).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc, pollWindow: constants.ResultPollWindow}
}

// WithPollWindow задаёт длительность одного длинного опроса для блокирующих операций.
func (c *Client) WithPollWindow(d time.Duration) *Client {
	if d > 0 {
		c.pollWindow = d
	}
	return c
}

// Attach проверяет доступность сервера и правильность секрета.
func (c *Client) Attach(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Get("/v1/ping")
	return c.check(ctx, resp, err)
}

func (c *Client) EnqueueJob(ctx context.Context, job models.Job) error {
	resp, err := c.rc.R().SetContext(ctx).SetBody(job).Post(path(constants.JobsQueue))
	return c.check(ctx, resp, err)
}

func (c *Client) DequeueJob(ctx context.Context, timeout time.Duration) (models.Job, error) {
	var job models.Job
	err := c.poll(ctx, constants.JobsQueue, timeout, &job)
	return job, err
}

func (c *Client) EnqueueResult(ctx context.Context, res models.Result) error {
	resp, err := c.rc.R().SetContext(ctx).SetBody(res).Post(path(constants.ResultsQueue))
	return c.check(ctx, resp, err)
}

func (c *Client) DequeueResult(ctx context.Context) (models.Result, error) {
	var res models.Result
	err := c.pollUntil(ctx, constants.ResultsQueue, &res)
	return res, err
}

func (c *Client) SignalReady(ctx context.Context, sig models.ReadySignal) error {
	resp, err := c.rc.R().SetContext(ctx).SetBody(sig).Post(path(constants.ReadyQueue))
	return c.check(ctx, resp, err)
}

func (c *Client) AwaitReady(ctx context.Context) (models.ReadySignal, error) {
	var sig models.ReadySignal
	err := c.pollUntil(ctx, constants.ReadyQueue, &sig)
	return sig, err
}

// Close освобождает простаивающие соединения; сам сервис закрывает координатор.
func (c *Client) Close() error {
	c.rc.GetClient().CloseIdleConnections()
	return nil
}

// pollUntil повторяет длинные опросы, пока не придёт элемент или не завершится ctx.
func (c *Client) pollUntil(ctx context.Context, queue string, out any) error {
	for {
		err := c.poll(ctx, queue, c.pollWindow, out)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		return err
	}
}

func (c *Client) poll(ctx context.Context, queue string, timeout time.Duration, out any) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("timeout", timeout.String()).
		SetResult(out).
		Get(path(queue))
	return c.check(ctx, resp, err)
}

// check переводит транспортные ошибки и HTTP-статусы в ошибки очереди.
func (c *Client) check(ctx context.Context, resp *resty.Response, err error) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	switch code := resp.StatusCode(); {
	case resp.IsSuccess():
		return nil
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusRequestTimeout:
		return ErrTimeout
	case code == http.StatusGone:
		return ErrClosed
	default:
		return fmt.Errorf("queue server: unexpected status %d: %s", code, resp.String())
	}
}

func path(queue string) string {
	return "/v1/queues/" + queue
}
