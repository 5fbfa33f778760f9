/**
 * Storage Manager for the ReportScan Worker
 *
 * Coordinates PostgreSQL (jobs and outcomes) and Qdrant (feature vectors).
 * A vector written before a failed SQL insert is deleted again so the two
 * systems never disagree.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// resultStore is the relational side of StorageManager.
type resultStore interface {
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	InsertResult(ctx context.Context, rec *ResultRecord) (time.Time, error)
	GetResult(ctx context.Context, resultID string) (*ResultRecord, error)
	GetLatestResultForJob(ctx context.Context, jobID string) (*ResultRecord, error)
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	GetStats() sql.DBStats
	Ping(ctx context.Context) error
	Close() error
}

// vectorIndex is the similarity side of StorageManager.
type vectorIndex interface {
	UpsertVector(ctx context.Context, point *VectorPoint) error
	SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*VectorPoint, error)
	DeleteVector(ctx context.Context, pointID string) error
	Close() error
}

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres resultStore
	qdrant   vectorIndex
	logger   *logging.Logger
}

// OutcomeInput is an extraction outcome ready to be stored. Features is
// nil when the report was not accepted for prediction.
type OutcomeInput struct {
	JobID      string
	Success    bool
	Code       string
	Message    string
	Profile    string
	RawText    string
	Parameters map[string]float64
	Warnings   []string
	Features   []float32
}

// OutcomeOutput identifies a stored outcome.
type OutcomeOutput struct {
	ResultID      string
	JobID         string
	QdrantPointID string
	CreatedAt     time.Time
}

// SimilarReport is a stored outcome close to a query vector.
type SimilarReport struct {
	ResultID   string             `json:"resultId"`
	JobID      string             `json:"jobId"`
	Distance   float32            `json:"distance"`
	Parameters map[string]float64 `json:"parameters"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// NewStorageManager connects to PostgreSQL and, when qdrantAddress is set,
// to Qdrant. Without Qdrant, outcomes are stored but not indexed.
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	if err := postgres.EnsureSchema(context.Background()); err != nil {
		postgres.Close()
		return nil, err
	}

	sm := &StorageManager{
		postgres: postgres,
		logger:   logging.NewLogger("StorageManager"),
	}

	if qdrantAddress == "" {
		sm.logger.Warn("Qdrant address not configured, feature vectors will not be indexed")
		return sm, nil
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}
	sm.qdrant = qdrant

	return sm, nil
}

// StoreOutcome writes the outcome row and, when features are present, the
// vector. The vector goes first and is removed if the row cannot be written.
func (sm *StorageManager) StoreOutcome(ctx context.Context, input *OutcomeInput) (*OutcomeOutput, error) {
	if input == nil {
		return nil, fmt.Errorf("input is required")
	}

	if input.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	if input.Features != nil && len(input.Features) != FeatureVectorSize {
		return nil, fmt.Errorf("invalid feature dimensions: expected %d, got %d", FeatureVectorSize, len(input.Features))
	}

	resultID := uuid.New().String()
	pointID := ""

	if sm.qdrant != nil && input.Features != nil {
		pointID = uuid.New().String()
		now := time.Now().Unix()
		point := &VectorPoint{
			ID:     pointID,
			Vector: input.Features,
			Metadata: map[string]interface{}{
				"job_id":    input.JobID,
				"result_id": resultID,
			},
			Timestamp: now,
		}

		if err := sm.qdrant.UpsertVector(ctx, point); err != nil {
			return nil, fmt.Errorf("failed to store vector in Qdrant: %w", err)
		}
	}

	rec := &ResultRecord{
		ID:            resultID,
		JobID:         input.JobID,
		Success:       input.Success,
		Code:          input.Code,
		Message:       input.Message,
		Profile:       input.Profile,
		RawText:       input.RawText,
		Parameters:    input.Parameters,
		Warnings:      input.Warnings,
		Features:      input.Features,
		QdrantPointID: pointID,
	}

	createdAt, err := sm.postgres.InsertResult(ctx, rec)
	if err != nil {
		if pointID != "" {
			if delErr := sm.qdrant.DeleteVector(ctx, pointID); delErr != nil {
				sm.logger.Error("Failed to remove orphaned vector", "pointId", pointID, "error", delErr)
			}
		}
		return nil, fmt.Errorf("failed to store outcome in PostgreSQL: %w", err)
	}

	return &OutcomeOutput{
		ResultID:      resultID,
		JobID:         input.JobID,
		QdrantPointID: pointID,
		CreatedAt:     createdAt,
	}, nil
}

// FindSimilar returns stored reports nearest to features. Points whose
// outcome row is missing are skipped.
func (sm *StorageManager) FindSimilar(ctx context.Context, features []float32, limit int) ([]*SimilarReport, error) {
	if sm.qdrant == nil {
		return nil, fmt.Errorf("vector index is not configured")
	}

	points, err := sm.qdrant.SearchVectors(ctx, features, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*SimilarReport, 0, len(points))
	for _, point := range points {
		resultID, ok := point.Metadata["result_id"].(string)
		if !ok {
			continue
		}

		rec, err := sm.postgres.GetResult(ctx, resultID)
		if err != nil {
			sm.logger.Debug("Skipping point without outcome", "pointId", point.ID, "error", err)
			continue
		}

		results = append(results, &SimilarReport{
			ResultID:   rec.ID,
			JobID:      rec.JobID,
			Distance:   point.Score,
			Parameters: rec.Parameters,
			CreatedAt:  rec.CreatedAt,
		})
	}

	return results, nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// GetResult retrieves a stored outcome by ID.
func (sm *StorageManager) GetResult(ctx context.Context, resultID string) (*ResultRecord, error) {
	return sm.postgres.GetResult(ctx, resultID)
}

// GetLatestResultForJob retrieves the newest outcome stored for a job.
func (sm *StorageManager) GetLatestResultForJob(ctx context.Context, jobID string) (*ResultRecord, error) {
	return sm.postgres.GetLatestResultForJob(ctx, jobID)
}

// DBStats returns the PostgreSQL connection pool statistics.
func (sm *StorageManager) DBStats() sql.DBStats {
	return sm.postgres.GetStats()
}

// Ping checks the database connection.
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}
