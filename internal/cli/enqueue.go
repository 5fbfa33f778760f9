package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/reportscan-worker/internal/queue"
)

func newEnqueueCmd() *cobra.Command {
	var (
		redisURL  string
		queueName string
		userID    string
		jobID     string
		maxRetry  int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <report-file-or-url>",
		Short: "Submit a report to the worker queue",
		Long: `Submits an extract-parameters job. Local files are sent inline;
http(s) URLs are downloaded by the worker.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID != "" {
				if err := queue.ValidateJobID(jobID); err != nil {
					return err
				}
			}
			job, err := jobFromSource(args[0])
			if err != nil {
				return err
			}
			job.JobID = jobID
			job.UserID = userID

			enqueuer, err := queue.NewEnqueuer(&queue.EnqueuerConfig{
				RedisURL:  flagOrEnv(redisURL, "REDIS_URL", "redis://localhost:6379"),
				QueueName: flagOrEnv(queueName, "QUEUE_NAME", "reportscan"),
				MaxRetry:  maxRetry,
			})
			if err != nil {
				return err
			}
			defer enqueuer.Close()

			info, err := enqueuer.Enqueue(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued job %s on queue %s\n", info.ID, info.Queue)
			return nil
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL (env REDIS_URL)")
	cmd.Flags().StringVar(&queueName, "queue", "", "queue name (env QUEUE_NAME)")
	cmd.Flags().StringVar(&userID, "user", "", "user the job belongs to")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job UUID, generated when empty")
	cmd.Flags().IntVar(&maxRetry, "max-retry", 3, "retries for transient failures")
	return cmd
}

func jobFromSource(source string) (*queue.JobData, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return &queue.JobData{
			Filename: filepath.Base(source),
			FileURL:  source,
		}, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	return &queue.JobData{
		Filename:   filepath.Base(source),
		MimeType:   mime.TypeByExtension(strings.ToLower(filepath.Ext(source))),
		FileSize:   int64(len(data)),
		FileBuffer: data,
	}, nil
}
