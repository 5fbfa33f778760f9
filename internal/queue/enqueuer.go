package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Enqueuer submits extraction jobs.
type Enqueuer struct {
	client    *asynq.Client
	queueName string
	maxRetry  int
	timeout   time.Duration
}

// EnqueuerConfig holds enqueuer configuration
type EnqueuerConfig struct {
	RedisURL  string
	QueueName string
	MaxRetry  int
	Timeout   time.Duration // per-task deadline enforced by asynq
}

// NewEnqueuer creates an Enqueuer for the configured queue.
func NewEnqueuer(cfg *EnqueuerConfig) (*Enqueuer, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}

	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queueName: cfg.QueueName,
		maxRetry:  maxRetry,
		timeout:   cfg.Timeout,
	}, nil
}

// NewExtractTask builds the task for job, assigning a job ID when missing.
func NewExtractTask(job *JobData) (*asynq.Task, error) {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}

	return asynq.NewTask(TaskExtractParameters, payload), nil
}

// Enqueue submits job. The job ID doubles as the asynq task ID, so a job
// cannot be queued twice.
func (e *Enqueuer) Enqueue(ctx context.Context, job *JobData) (*asynq.TaskInfo, error) {
	task, err := NewExtractTask(job)
	if err != nil {
		return nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(e.queueName),
		asynq.MaxRetry(e.maxRetry),
		asynq.TaskID(job.JobID),
	}
	if e.timeout > 0 {
		opts = append(opts, asynq.Timeout(e.timeout))
	}

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return info, nil
}

// Close closes the asynq client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
