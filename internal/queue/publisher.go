/**
 * Result Publisher for the ReportScan Worker
 *
 * Mirrors job status into Redis for API consumers: status sets, result and
 * error hashes, and job:<status> events on a pub/sub channel.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// Job statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrResultNotFound is returned by GetResult for jobs without a stored result.
var ErrResultNotFound = errors.New("result not found")

// StatusPublisher announces job status changes.
type StatusPublisher interface {
	Publish(ctx context.Context, jobID string, status string, payload interface{}) error
}

// ResultPublisher writes job status to Redis
type ResultPublisher struct {
	client *redis.Client
	prefix string
	logger *logging.Logger
}

// JobEvent is published on the events channel.
type JobEvent struct {
	Event     string `json:"event"`
	JobID     string `json:"jobId"`
	Timestamp string `json:"timestamp"`
}

// NewResultPublisher connects to redisURL. Keys are namespaced under prefix.
func NewResultPublisher(redisURL string, prefix string) (*ResultPublisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewResultPublisherFromClient(client, prefix), nil
}

// NewResultPublisherFromClient wraps an existing client.
func NewResultPublisherFromClient(client *redis.Client, prefix string) *ResultPublisher {
	if prefix == "" {
		prefix = "reportscan"
	}
	return &ResultPublisher{
		client: client,
		prefix: prefix,
		logger: logging.NewLogger("ResultPublisher"),
	}
}

func (p *ResultPublisher) key(suffix string) string {
	return fmt.Sprintf("%s:%s", p.prefix, suffix)
}

// EventsChannel is the pub/sub channel job events are sent to.
func (p *ResultPublisher) EventsChannel() string {
	return p.key("events")
}

// statusMove describes how a status change rewrites the Redis keys. A job
// sits in exactly one status set and at most one of the payload hashes.
type statusMove struct {
	add    string
	remove []string
	hash   string
	clear  []string
}

func moveFor(status string) statusMove {
	switch status {
	case StatusProcessing:
		return statusMove{
			add:    StatusProcessing,
			remove: []string{StatusCompleted, StatusFailed},
			clear:  []string{"results", "errors"},
		}
	case StatusCompleted:
		return statusMove{
			add:    StatusCompleted,
			remove: []string{StatusProcessing, StatusFailed},
			hash:   "results",
			clear:  []string{"errors"},
		}
	case StatusFailed:
		return statusMove{
			add:    StatusFailed,
			remove: []string{StatusProcessing, StatusCompleted},
			hash:   "errors",
			clear:  []string{"results"},
		}
	}
	return statusMove{}
}

// Publish moves jobID into the status set, stores payload under the
// results or errors hash for terminal states, and emits a job event.
// A retried job leaves no trace of its earlier attempt.
func (p *ResultPublisher) Publish(ctx context.Context, jobID string, status string, payload interface{}) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", status, err)
		}
	}

	event, err := json.Marshal(JobEvent{
		Event:     "job:" + status,
		JobID:     jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	move := moveFor(status)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if move.add != "" {
			for _, other := range move.remove {
				pipe.SRem(ctx, p.key(other), jobID)
			}
			pipe.SAdd(ctx, p.key(move.add), jobID)
		}
		for _, stale := range move.clear {
			pipe.HDel(ctx, p.key(stale), jobID)
		}
		if move.hash != "" && data != nil {
			pipe.HSet(ctx, p.key(move.hash), jobID, data)
		}
		pipe.Publish(ctx, p.EventsChannel(), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s for job %s: %w", status, jobID, err)
	}

	p.logger.Debug("Job status published", "jobId", jobID, "status", status)
	return nil
}

// GetResult returns the stored payload of a finished job. Failed jobs,
// including reports that yielded no parameters, return their error payload.
func (p *ResultPublisher) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	for _, hash := range []string{"results", "errors"} {
		data, err := p.client.HGet(ctx, p.key(hash), jobID).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read result: %w", err)
		}
		return json.RawMessage(data), nil
	}
	return nil, fmt.Errorf("%w: job %s", ErrResultNotFound, jobID)
}

// GetStats returns the size of each status set.
func (p *ResultPublisher) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, status := range []string{StatusProcessing, StatusCompleted, StatusFailed} {
		n, err := p.client.SCard(ctx, p.key(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		stats[status] = n
	}
	return stats, nil
}

// Close closes the Redis client
func (p *ResultPublisher) Close() error {
	return p.client.Close()
}
