package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/reportscan-worker/internal/errors"
	"github.com/adverant/nexus/reportscan-worker/internal/logging"
	"github.com/adverant/nexus/reportscan-worker/internal/processor"
)

const (
	jobCompleted = "0b6f2a52-7f0e-4c1d-9a43-5d8e2f1c0a01"
	jobNoParams  = "0b6f2a52-7f0e-4c1d-9a43-5d8e2f1c0a02"
	jobRetried   = "0b6f2a52-7f0e-4c1d-9a43-5d8e2f1c0a03"
	jobFailed    = "0b6f2a52-7f0e-4c1d-9a43-5d8e2f1c0a04"
)

type statusCall struct {
	jobID    string
	status   string
	metadata map[string]interface{}
}

type fakeProcessor struct {
	mu       sync.Mutex
	result   *processor.ProcessResult
	err      error
	requests []*processor.ProcessRequest
	statuses []statusCall
}

func (f *fakeProcessor) ProcessReport(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusCall{jobID, status, metadata})
	return nil
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) Publish(ctx context.Context, jobID string, status string, payload interface{}) error {
	f.events = append(f.events, jobID+":"+status)
	return nil
}

func newTestConsumer(p processor.ReportProcessorInterface, pub StatusPublisher) *Consumer {
	return newConsumer(&ConsumerConfig{
		QueueName:         "reportscan",
		Concurrency:       1,
		Processor:         p,
		Publisher:         pub,
		ProcessingTimeout: 5000,
	}, logging.NewLogger("ConsumerTest"))
}

func extractTask(t *testing.T, job *JobData) *asynq.Task {
	t.Helper()
	task, err := NewExtractTask(job)
	require.NoError(t, err)
	return task
}

func successfulResult() *processor.ProcessResult {
	pipeline := processor.NewPipeline(nil)
	return &processor.ProcessResult{
		Outcome:  pipeline.ProcessText("Age: 54 Sex: M BP: 130 Chol: 246 Heart rate: 150"),
		Accepted: true,
		ResultID: "result-1",
	}
}

func TestHandleCompletedJob(t *testing.T) {
	proc := &fakeProcessor{result: successfulResult()}
	pub := &fakePublisher{}
	c := newTestConsumer(proc, pub)

	err := c.handleExtractParameters(context.Background(), extractTask(t, &JobData{JobID: jobCompleted, FileBuffer: []byte{1, 2, 3}}))
	require.NoError(t, err)

	require.Len(t, proc.requests, 1)
	assert.Equal(t, []byte{1, 2, 3}, proc.requests[0].FileBuffer)

	assert.Equal(t, []string{jobCompleted + ":processing", jobCompleted + ":completed"}, pub.events)
	require.Len(t, proc.statuses, 2)
	assert.Equal(t, StatusCompleted, proc.statuses[1].status)
	assert.Equal(t, 5, proc.statuses[1].metadata["parameterCount"])
}

func TestHandleTerminalOutcomeMarksFailed(t *testing.T) {
	outcome := processor.NewPipeline(nil).ProcessText("nothing useful here")
	proc := &fakeProcessor{result: &processor.ProcessResult{Outcome: outcome}}
	pub := &fakePublisher{}
	c := newTestConsumer(proc, pub)

	err := c.handleExtractParameters(context.Background(), extractTask(t, &JobData{JobID: jobNoParams, FileURL: "http://files/report.png"}))
	require.NoError(t, err)

	assert.Equal(t, []string{jobNoParams + ":processing", jobNoParams + ":failed"}, pub.events)
	assert.Equal(t, string(errors.ErrorNoParametersExtracted), proc.statuses[1].metadata["code"])
}

func TestHandleEngineUnavailableIsRetried(t *testing.T) {
	outcome := processor.ExtractionOutcome{Code: errors.ErrorEngineUnavailable, Message: "text recognition engine is unavailable: tesseract"}
	c := newTestConsumer(&fakeProcessor{result: &processor.ProcessResult{Outcome: outcome}}, nil)

	err := c.handleExtractParameters(context.Background(), extractTask(t, &JobData{JobID: jobRetried, FileURL: "http://x"}))
	require.Error(t, err)
	assert.False(t, stderrors.Is(err, asynq.SkipRetry))
}

func TestHandleJobErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"decode", errors.NewImageDecodeError("j", fmt.Errorf("bad")), true},
		{"unsupported", errors.NewUnsupportedFormatError("j", "application/pdf"), true},
		{"too large", errors.NewFileTooLargeError("j", 10, 5), true},
		{"storage", errors.NewStorageFailedError("j", fmt.Errorf("down")), false},
		{"download", fmt.Errorf("failed to download file: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.err}
			pub := &fakePublisher{}
			c := newTestConsumer(proc, pub)

			err := c.handleExtractParameters(context.Background(), extractTask(t, &JobData{JobID: jobFailed, FileURL: "http://x"}))
			require.Error(t, err)
			assert.Equal(t, tt.skipRetry, stderrors.Is(err, asynq.SkipRetry))
			assert.Equal(t, []string{jobFailed + ":processing", jobFailed + ":failed"}, pub.events)
		})
	}
}

func TestHandleMalformedPayloadSkipsRetry(t *testing.T) {
	c := newTestConsumer(&fakeProcessor{}, nil)

	err := c.handleExtractParameters(context.Background(), asynq.NewTask(TaskExtractParameters, []byte("{not json")))
	assert.True(t, stderrors.Is(err, asynq.SkipRetry))

	err = c.handleExtractParameters(context.Background(), asynq.NewTask(TaskExtractParameters, []byte(`{"jobId":"j"}`)))
	assert.True(t, stderrors.Is(err, asynq.SkipRetry))
}

func TestHandleNonUUIDJobIDSkipsRetry(t *testing.T) {
	proc := &fakeProcessor{}
	pub := &fakePublisher{}
	c := newTestConsumer(proc, pub)

	payload := []byte(`{"jobId":"report-42","fileUrl":"http://files/report.png"}`)
	err := c.handleExtractParameters(context.Background(), asynq.NewTask(TaskExtractParameters, payload))
	assert.True(t, stderrors.Is(err, asynq.SkipRetry))
	assert.Empty(t, proc.requests)
	assert.Empty(t, pub.events)
}

func TestValidateJobID(t *testing.T) {
	assert.NoError(t, ValidateJobID(jobCompleted))
	assert.Error(t, ValidateJobID("job-1"))
	assert.Error(t, ValidateJobID(""))

	assert.Error(t, (&JobData{JobID: "job-1", FileURL: "http://x"}).Validate())
	assert.NoError(t, (&JobData{JobID: jobCompleted, FileURL: "http://x"}).Validate())
}

func TestJobDataFileBufferFormats(t *testing.T) {
	var fromBase64 JobData
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"a","fileBuffer":"AQID"}`), &fromBase64))
	assert.Equal(t, []byte{1, 2, 3}, fromBase64.FileBuffer)

	var fromBuffer JobData
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"b","fileBuffer":{"type":"Buffer","data":[4,5]}}`), &fromBuffer))
	assert.Equal(t, []byte{4, 5}, fromBuffer.FileBuffer)
	assert.Equal(t, "b", fromBuffer.JobID)

	var bad JobData
	assert.Error(t, json.Unmarshal([]byte(`{"jobId":"c","fileBuffer":42}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"jobId":"c","fileBuffer":{"type":"Blob"}}`), &bad))
}

func TestNewExtractTaskAssignsJobID(t *testing.T) {
	job := &JobData{FileURL: "http://files/report.png", Filename: "report.png"}

	task, err := NewExtractTask(job)
	require.NoError(t, err)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, TaskExtractParameters, task.Type())

	var decoded JobData
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, job.JobID, decoded.JobID)

	_, err = NewExtractTask(&JobData{JobID: "empty"})
	assert.Error(t, err)

	_, err = NewExtractTask(&JobData{JobID: "report-42", FileURL: "http://files/report.png"})
	assert.Error(t, err)
}

func TestStatusMovesKeepOneStatus(t *testing.T) {
	for _, status := range []string{StatusProcessing, StatusCompleted, StatusFailed} {
		move := moveFor(status)
		assert.Equal(t, status, move.add)
		assert.ElementsMatch(t,
			[]string{StatusProcessing, StatusCompleted, StatusFailed},
			append([]string{move.add}, move.remove...), status)
		for _, stale := range move.clear {
			assert.NotEqual(t, move.hash, stale, status)
		}
	}

	assert.ElementsMatch(t, []string{"results", "errors"}, moveFor(StatusProcessing).clear)
	assert.Equal(t, "results", moveFor(StatusCompleted).hash)
	assert.Equal(t, []string{"errors"}, moveFor(StatusCompleted).clear)
	assert.Equal(t, "errors", moveFor(StatusFailed).hash)
	assert.Equal(t, []string{"results"}, moveFor(StatusFailed).clear)
	assert.Empty(t, moveFor("unknown").add)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(8, nil, nil))
}

func TestResultPublisherAgainstRedis(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	prefix := fmt.Sprintf("reportscan-test-%d", time.Now().UnixNano())
	pub := NewResultPublisherFromClient(client, prefix)
	t.Cleanup(func() {
		ctx := context.Background()
		client.Del(ctx, prefix+":processing", prefix+":completed", prefix+":failed", prefix+":results", prefix+":errors")
		pub.Close()
	})

	ctx := context.Background()
	sub := client.Subscribe(ctx, pub.EventsChannel())
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, jobCompleted, StatusProcessing, nil))
	require.NoError(t, pub.Publish(ctx, jobCompleted, StatusCompleted, map[string]int{"parameters": 5}))

	stats, err := pub.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[StatusProcessing])
	assert.Equal(t, int64(1), stats[StatusCompleted])

	stored, err := pub.GetResult(ctx, jobCompleted)
	require.NoError(t, err)
	assert.JSONEq(t, `{"parameters":5}`, string(stored))

	_, err = pub.GetResult(ctx, jobNoParams)
	assert.ErrorIs(t, err, ErrResultNotFound)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var event JobEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "job:processing", event.Event)
}

func TestResultPublisherRetriedJobAgainstRedis(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	prefix := fmt.Sprintf("reportscan-retry-%d", time.Now().UnixNano())
	pub := NewResultPublisherFromClient(client, prefix)
	t.Cleanup(func() {
		client.Del(context.Background(), prefix+":processing", prefix+":completed", prefix+":failed", prefix+":results", prefix+":errors")
		pub.Close()
	})

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, jobRetried, StatusProcessing, nil))
	require.NoError(t, pub.Publish(ctx, jobRetried, StatusFailed, map[string]string{"code": "STORAGE_FAILED"}))

	stored, err := pub.GetResult(ctx, jobRetried)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"STORAGE_FAILED"}`, string(stored))

	require.NoError(t, pub.Publish(ctx, jobRetried, StatusProcessing, nil))
	_, err = pub.GetResult(ctx, jobRetried)
	assert.ErrorIs(t, err, ErrResultNotFound)

	require.NoError(t, pub.Publish(ctx, jobRetried, StatusCompleted, map[string]int{"parameters": 6}))

	stats, err := pub.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{StatusProcessing: 0, StatusCompleted: 1, StatusFailed: 0}, stats)

	exists, err := client.HExists(ctx, prefix+":errors", jobRetried).Result()
	require.NoError(t, err)
	assert.False(t, exists)

	stored, err = pub.GetResult(ctx, jobRetried)
	require.NoError(t, err)
	assert.JSONEq(t, `{"parameters":6}`, string(stored))
}
