/**
 * Queue Consumer for the ReportScan Worker
 *
 * Consumes extract-parameters tasks from Redis and runs report extraction.
 * Uses Asynq for queue management.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/reportscan-worker/internal/errors"
	"github.com/adverant/nexus/reportscan-worker/internal/logging"
	"github.com/adverant/nexus/reportscan-worker/internal/processor"
)

const defaultProcessingTimeout = 120000 // milliseconds

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.ReportProcessorInterface
	publisher StatusPublisher
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ReportProcessorInterface
	Publisher         StatusPublisher // optional
	ProcessingTimeout int64           // milliseconds
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("Consumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error", "type", task.Type(), "retry", retried, "maxRetry", maxRetry, "error", err)
			}),
			Logger:   newAsynqLogger(),
			LogLevel: asynq.WarnLevel,
		},
	)

	consumer := newConsumer(cfg, logger)
	consumer.server = server
	return consumer, nil
}

func newConsumer(cfg *ConsumerConfig, logger *logging.Logger) *Consumer {
	c := &Consumer{
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		publisher: cfg.Publisher,
		config:    cfg,
		logger:    logger,
	}
	c.mux.HandleFunc(TaskExtractParameters, c.handleExtractParameters)
	return c
}

// retryDelay is exponential: 5s, 10s, 20s, capped at 60s.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second || delay <= 0 {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully, waiting for running tasks.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	return defaultProcessingTimeout * time.Millisecond
}

// handleExtractParameters processes one report extraction job
func (c *Consumer) handleExtractParameters(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var job JobData
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	c.logger.Info("Processing report", "jobId", job.JobID, "filename", job.Filename,
		"bytes", len(job.FileBuffer), "user", job.UserID)

	c.setStatus(ctx, job.JobID, StatusProcessing, map[string]interface{}{
		"filename": job.Filename,
		"mimeType": job.MimeType,
		"fileSize": job.FileSize,
		"userId":   job.UserID,
	}, nil)

	timeout := c.timeout()
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessReport(processCtx, &processor.ProcessRequest{
		JobID:      job.JobID,
		UserID:     job.UserID,
		Filename:   job.Filename,
		MimeType:   job.MimeType,
		FileSize:   job.FileSize,
		FileURL:    job.FileURL,
		FileBuffer: job.FileBuffer,
		Metadata:   job.Metadata,
	})

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded && errors.CodeOf(err) == "" {
			err = errors.NewProcessingTimeoutError(job.JobID, timeout, err)
		}

		c.logger.Error("Report processing failed", "jobId", job.JobID, "duration", duration, "error", err)

		failure := map[string]interface{}{
			"code":           string(errors.CodeOf(err)),
			"error":          err.Error(),
			"processingTime": duration.Milliseconds(),
		}
		c.setStatus(ctx, job.JobID, StatusFailed, failure, failure)

		if !retryable(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("report processing failed: %w", err)
	}

	status := StatusCompleted
	metadata := map[string]interface{}{
		"parameterCount": result.Outcome.Parameters.Len(),
		"processingTime": duration.Milliseconds(),
		"accepted":       result.Accepted,
		"resultId":       result.ResultID,
		"profile":        result.Outcome.Profile,
	}
	if !result.Outcome.Success {
		status = StatusFailed
		metadata["code"] = string(result.Outcome.Code)
		metadata["error"] = result.Outcome.Message
	}

	c.logger.Info("Report processing finished", "jobId", job.JobID, "status", status,
		"parameters", result.Outcome.Parameters.Len(), "accepted", result.Accepted, "duration", duration)

	c.setStatus(ctx, job.JobID, status, metadata, result)

	// An unavailable engine may recover, so the task is retried.
	if result.Outcome.Code == errors.ErrorEngineUnavailable {
		return fmt.Errorf("%s", result.Outcome.Message)
	}

	return nil
}

// setStatus records status in the database and Redis. Failures are logged,
// not returned: status reporting never fails a job.
func (c *Consumer) setStatus(ctx context.Context, jobID, status string, metadata map[string]interface{}, payload interface{}) {
	if err := c.processor.UpdateJobStatus(ctx, jobID, status, metadata); err != nil {
		c.logger.Warn("Failed to update job status", "jobId", jobID, "status", status, "error", err)
	}
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, jobID, status, payload); err != nil {
		c.logger.Warn("Failed to publish job status", "jobId", jobID, "status", status, "error", err)
	}
}

// retryable reports whether running the job again could succeed.
func retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrorUnsupportedFormat, errors.ErrorImageDecodeFailed, errors.ErrorFileTooLarge:
		return false
	}
	return true
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"timeoutMs":   c.timeout().Milliseconds(),
	}
}
