/**
 * Report Processor for the ReportScan Worker
 *
 * Runs one extraction job end to end:
 * - load the report image from the job buffer or a download URL
 * - decode it and run the extraction pipeline
 * - translate accepted parameters into the classifier feature vector
 * - persist the outcome and index the vector
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/adverant/nexus/reportscan-worker/internal/errors"
	"github.com/adverant/nexus/reportscan-worker/internal/features"
	"github.com/adverant/nexus/reportscan-worker/internal/logging"
	"github.com/adverant/nexus/reportscan-worker/internal/storage"
)

// ReportProcessorInterface is what the queue consumer needs from a processor.
type ReportProcessorInterface interface {
	ProcessReport(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error
}

// OutcomeStore persists outcomes and job status. *storage.StorageManager
// implements it.
type OutcomeStore interface {
	StoreOutcome(ctx context.Context, input *storage.OutcomeInput) (*storage.OutcomeOutput, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Pipeline      *Pipeline
	Storage       OutcomeStore // optional
	MaxFileSize   int64
	MinParameters int
	HTTPClient    *http.Client
}

// ProcessRequest represents a report extraction request
type ProcessRequest struct {
	JobID      string
	UserID     string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	Metadata   map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	Outcome          ExtractionOutcome  `json:"outcome"`
	Accepted         bool               `json:"accepted"`
	RejectReason     string             `json:"rejectReason,omitempty"`
	Features         map[string]float64 `json:"features,omitempty"`
	ResultID         string             `json:"resultId,omitempty"`
	VectorID         string             `json:"vectorId,omitempty"`
	MimeType         string             `json:"mimeType"`
	Engine           string             `json:"engine"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

// ReportProcessor handles report processing
type ReportProcessor struct {
	config   *ProcessorConfig
	pipeline *Pipeline
	storage  OutcomeStore
	client   *http.Client
	logger   *logging.Logger
}

// NewReportProcessor creates a processor. Without storage, outcomes are
// returned but not persisted.
func NewReportProcessor(cfg *ProcessorConfig) (*ReportProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	if cfg.MinParameters < 0 {
		return nil, fmt.Errorf("min parameters must not be negative")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	logger := logging.NewLogger("ReportProcessor")
	if cfg.Storage == nil {
		logger.Warn("No storage configured, outcomes will not be persisted")
	}

	return &ReportProcessor{
		config:   cfg,
		pipeline: cfg.Pipeline,
		storage:  cfg.Storage,
		client:   client,
		logger:   logger,
	}, nil
}

// ProcessReport runs the whole job. Pipeline terminal states (no text, no
// parameters, engine unavailable) are reported in the result's outcome;
// the returned error is reserved for job-level failures.
func (p *ReportProcessor) ProcessReport(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()
	p.logger.Info("Starting report extraction", "jobId", req.JobID, "filename", req.Filename)

	fileData, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, err
	}

	img, mimeType, err := DecodeImage(fileData)
	if err != nil {
		if stderrors.Is(err, ErrUnsupportedFormat) {
			return nil, errors.NewUnsupportedFormatError(req.JobID, mimeType)
		}
		return nil, errors.NewImageDecodeError(req.JobID, err)
	}
	p.logger.Debug("Report decoded", "jobId", req.JobID, "mimeType", mimeType,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	outcome, err := p.runPipeline(ctx, req.JobID, img)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{
		Outcome:  outcome,
		MimeType: mimeType,
		Engine:   p.pipeline.Engine().Name(),
	}

	var vector []float32
	if outcome.Success {
		v, err := features.Accept(req.JobID, outcome.Parameters.Map(), p.config.MinParameters)
		result.Features = v.Map()
		if err != nil {
			result.RejectReason = err.Error()
			p.logger.Info("Report not accepted for prediction", "jobId", req.JobID,
				"parameters", outcome.Parameters.Len(), "required", p.config.MinParameters)
		} else {
			result.Accepted = true
			vector = v.Float32()
		}
	}

	if p.storage != nil {
		stored, err := p.storage.StoreOutcome(ctx, outcomeInput(req.JobID, outcome, vector))
		if err != nil {
			return nil, errors.NewStorageFailedError(req.JobID, err)
		}
		result.ResultID = stored.ResultID
		result.VectorID = stored.QdrantPointID
	}

	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	p.logger.Info("Report extraction finished", "jobId", req.JobID, "success", outcome.Success,
		"code", outcome.Code, "parameters", outcome.Parameters.Len(), "accepted", result.Accepted,
		"duration", time.Since(startTime))

	return result, nil
}

// runPipeline bounds the pipeline by ctx. Engines are not interruptible
// mid-call, so an expired deadline abandons the running call.
func (p *ReportProcessor) runPipeline(ctx context.Context, jobID string, img image.Image) (ExtractionOutcome, error) {
	done := make(chan ExtractionOutcome, 1)
	started := time.Now()

	go func() {
		done <- p.pipeline.Process(ctx, img)
	}()

	select {
	case outcome := <-done:
		// Engines stop on cancellation and report no text; that is still a timeout.
		if err := ctx.Err(); err != nil {
			return ExtractionOutcome{}, errors.NewProcessingTimeoutError(jobID, time.Since(started), err)
		}
		return outcome, nil
	case <-ctx.Done():
		return ExtractionOutcome{}, errors.NewProcessingTimeoutError(jobID, time.Since(started), ctx.Err())
	}
}

func outcomeInput(jobID string, outcome ExtractionOutcome, vector []float32) *storage.OutcomeInput {
	warnings := make([]string, len(outcome.Warnings))
	for i, w := range outcome.Warnings {
		warnings[i] = w.String()
	}

	return &storage.OutcomeInput{
		JobID:      jobID,
		Success:    outcome.Success,
		Code:       string(outcome.Code),
		Message:    outcome.Message,
		Profile:    outcome.Profile,
		RawText:    outcome.RawText,
		Parameters: outcome.Parameters.Map(),
		Warnings:   warnings,
		Features:   vector,
	}
}

// UpdateJobStatus updates job status in the database. Without storage it is a no-op.
func (p *ReportProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	if p.storage == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Engine:   p.pipeline.Engine().Name(),
		Metadata: metadata,
	}

	if metadata != nil {
		if n, ok := metadata["parameterCount"].(int); ok {
			update.ParameterCount = n
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if code, ok := metadata["code"].(string); ok {
			update.ErrorCode = code
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
			update.ErrorMessage = errorMsg
		}
	}

	return p.storage.UpdateJobStatus(ctx, update)
}

// loadFile loads the report from the job buffer or its URL and enforces
// the size limit.
func (p *ReportProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		p.logger.Debug("Using file buffer", "jobId", req.JobID, "bytes", len(req.FileBuffer))
		if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
			return nil, errors.NewFileTooLargeError(req.JobID, int64(len(req.FileBuffer)), p.config.MaxFileSize)
		}
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		fileData, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download file: %w", err)
		}
		return fileData, nil
	}

	return nil, fmt.Errorf("no file source provided (buffer or URL)")
}

// Download retry policy.
const (
	downloadMaxRetries     = 5
	downloadInitialBackoff = time.Second
	downloadMaxBackoff     = 32 * time.Second
)

func downloadBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(downloadInitialBackoff) * math.Pow(2, float64(attempt-1)))
	if backoff > downloadMaxBackoff {
		backoff = downloadMaxBackoff
	}
	return backoff
}

// downloadFileFromURL downloads with exponential backoff. Oversized files
// fail immediately without retrying.
func (p *ReportProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		if attempt > 1 {
			backoff := downloadBackoff(attempt - 1)
			p.logger.Debug("Retrying download", "jobId", jobID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		data, err := p.fetch(ctx, jobID, fileURL)
		if err == nil {
			p.logger.Debug("Download successful", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}
		if errors.CodeOf(err) == errors.ErrorFileTooLarge {
			return nil, err
		}

		lastErr = err
		p.logger.Warn("Download attempt failed", "jobId", jobID, "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", downloadMaxRetries, lastErr)
}

func (p *ReportProcessor) fetch(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	limit := p.config.MaxFileSize
	if limit > 0 && resp.ContentLength > limit {
		return nil, errors.NewFileTooLargeError(jobID, resp.ContentLength, limit)
	}

	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}

	// Read one byte past the limit to detect bodies without Content-Length.
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errors.NewFileTooLargeError(jobID, int64(len(data)), limit)
	}
	return data, nil
}
