// Package queue runs receipt scans asynchronously on top of asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// TypeScanReceipt is the asynq task type for a receipt scan.
const TypeScanReceipt = "receipt:scan"

// ErrJobNotFound is returned when a job ID is unknown to the queue.
var ErrJobNotFound = errors.New("job not found")

// ScanPayload is the task payload.
type ScanPayload struct {
	Image []byte `json:"image"`
}

// NewScanTask creates a scan task for the given image bytes.
func NewScanTask(image []byte, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(ScanPayload{Image: image})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan payload: %w", err)
	}
	return asynq.NewTask(TypeScanReceipt, payload, opts...), nil
}

// Job is the externally visible state of a queued scan.
type Job struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	Receipt     string     `json:"receipt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Retried     int        `json:"retried"`
	MaxRetry    int        `json:"max_retry"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Options configures a Client.
type Options struct {
	RedisURL  string
	Queue     string
	Retention time.Duration
	MaxRetry  int
	Timeout   time.Duration
}

func (o Options) taskOptions() []asynq.Option {
	taskOpts := []asynq.Option{
		asynq.Queue(o.Queue),
		asynq.MaxRetry(o.MaxRetry),
	}
	if o.Retention > 0 {
		taskOpts = append(taskOpts, asynq.Retention(o.Retention))
	}
	if o.Timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(o.Timeout))
	}
	return taskOpts
}

// RedisOptions parses a redis:// or rediss:// URL into the connection
// options used by both go-redis and asynq.
func RedisOptions(url string) (*redis.Options, asynq.RedisClientOpt, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, asynq.RedisClientOpt{}, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return opts, asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// Client enqueues scans and reports their status.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	opts      Options
}

// NewClient connects to the queue described by opts.
func NewClient(opts Options) (*Client, error) {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	redisOpts, connOpt, err := RedisOptions(opts.RedisURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:    asynq.NewClient(connOpt),
		inspector: asynq.NewInspector(connOpt),
		redis:     redis.NewClient(redisOpts),
		opts:      opts,
	}, nil
}

// Enqueue schedules a scan of image and returns the job ID.
func (c *Client) Enqueue(ctx context.Context, image []byte) (string, error) {
	task, err := NewScanTask(image, c.opts.taskOptions()...)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue scan: %w", err)
	}
	return info.ID, nil
}

// Status returns the current state of a job.
func (c *Client) Status(ctx context.Context, id string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := c.inspector.GetTaskInfo(c.opts.Queue, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job info: %w", err)
	}
	return jobFromInfo(info), nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close releases the Redis connections.
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close(), c.redis.Close())
}

func jobFromInfo(info *asynq.TaskInfo) *Job {
	job := &Job{
		ID:       info.ID,
		State:    info.State.String(),
		Receipt:  string(info.Result),
		Error:    info.LastErr,
		Retried:  info.Retried,
		MaxRetry: info.MaxRetry,
	}
	if !info.CompletedAt.IsZero() {
		completed := info.CompletedAt
		job.CompletedAt = &completed
	}
	return job
}
