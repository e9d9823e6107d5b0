package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	maxRetry = 5

	// A job gets the base budget plus one slot per target format.
	baseTimeout      = time.Minute
	perTargetTimeout = 45 * time.Second
)

// ErrAlreadyQueued is returned when a task for the same job is still held
// by the queue.
var ErrAlreadyQueued = errors.New("job is already queued")

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueConvertImage queues one conversion job. The job id doubles as the
// asynq task id, so a job cannot be queued twice while its task exists.
func (c *Client) EnqueueConvertImage(ctx context.Context, payload ConvertImagePayload) (*asynq.TaskInfo, error) {
	if strings.TrimSpace(payload.JobID) == "" {
		return nil, errors.New("job_id is required")
	}
	if len(payload.Targets) == 0 {
		return nil, errors.New("targets must contain at least one format")
	}

	task, err := NewConvertImageTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, taskOptions(c.queue, payload)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, payload.JobID)
	}
	return info, err
}

func taskOptions(queueName string, payload ConvertImagePayload) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(conversionTimeout(len(payload.Targets))),
	}
}

func conversionTimeout(targets int) time.Duration {
	if targets < 1 {
		targets = 1
	}
	return baseTimeout + time.Duration(targets)*perTargetTimeout
}

func (c *Client) Close() error {
	return c.client.Close()
}
