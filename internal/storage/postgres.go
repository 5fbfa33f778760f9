/**
 * PostgreSQL Client for the ReportScan Worker
 *
 * Handles job status persistence and extraction result storage.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Schema creates the tables used by the worker. It is safe to run repeatedly.
const Schema = `
CREATE SCHEMA IF NOT EXISTS reportscan;

CREATE TABLE IF NOT EXISTS reportscan.extraction_jobs (
	id                 UUID PRIMARY KEY,
	user_id            TEXT NOT NULL DEFAULT 'anonymous',
	filename           TEXT NOT NULL DEFAULT 'report',
	mime_type          TEXT,
	file_size          BIGINT,
	status             TEXT NOT NULL,
	engine             TEXT,
	parameter_count    INTEGER,
	processing_time_ms BIGINT,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS reportscan.extraction_results (
	id              UUID PRIMARY KEY,
	job_id          UUID NOT NULL,
	success         BOOLEAN NOT NULL,
	code            TEXT,
	message         TEXT NOT NULL,
	profile         TEXT,
	raw_text        TEXT NOT NULL DEFAULT '',
	parameters      JSONB NOT NULL DEFAULT '{}'::jsonb,
	warnings        JSONB NOT NULL DEFAULT '[]'::jsonb,
	features        REAL[],
	qdrant_point_id UUID,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS extraction_results_job_id_idx ON reportscan.extraction_results (job_id);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Engine           string
	ParameterCount   int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// ResultRecord is one stored extraction outcome.
type ResultRecord struct {
	ID            string             `json:"id"`
	JobID         string             `json:"jobId"`
	Success       bool               `json:"success"`
	Code          string             `json:"code,omitempty"`
	Message       string             `json:"message"`
	Profile       string             `json:"profile,omitempty"`
	RawText       string             `json:"rawText"`
	Parameters    map[string]float64 `json:"parameters"`
	Warnings      []string           `json:"warnings"`
	Features      []float32          `json:"features,omitempty"`
	QdrantPointID string             `json:"qdrantPointId,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema applies Schema.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row. The worker may see a job before the
// API has written it, so a missing row is created.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadata, _ := sanitizeValueForPostgres(update.Metadata).(map[string]interface{})
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO reportscan.extraction_jobs (
			id, user_id, filename, mime_type, file_size,
			status, engine, parameter_count, processing_time_ms,
			error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($12, ''), 'anonymous'), COALESCE(NULLIF($9, ''), 'report'),
			NULLIF($10, ''), NULLIF($11, 0),
			$2, NULLIF($3, ''), NULLIF($4, -1), NULLIF($5, 0),
			NULLIF($6, ''), NULLIF($7, ''),
			COALESCE($8::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			engine = COALESCE(EXCLUDED.engine, reportscan.extraction_jobs.engine),
			parameter_count = COALESCE(EXCLUDED.parameter_count, reportscan.extraction_jobs.parameter_count),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, reportscan.extraction_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = reportscan.extraction_jobs.metadata || EXCLUDED.metadata,
			mime_type = COALESCE(EXCLUDED.mime_type, reportscan.extraction_jobs.mime_type),
			file_size = COALESCE(EXCLUDED.file_size, reportscan.extraction_jobs.file_size),
			updated_at = NOW()
		RETURNING id
	`

	filename, mimeType, userID, fileSize := jobMetadataColumns(metadata)

	// Counts are only meaningful once the job reached a terminal state.
	parameterCount := -1
	if update.Status == "completed" || update.Status == "failed" {
		parameterCount = update.ParameterCount
	}

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Status,           // $2
		update.Engine,           // $3
		parameterCount,          // $4
		update.ProcessingTimeMs, // $5
		update.ErrorCode,        // $6
		update.ErrorMessage,     // $7
		metadataJSON,            // $8
		filename,                // $9
		mimeType,                // $10
		fileSize,                // $11
		userID,                  // $12
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w", update.JobID, update.Status, err)
	}

	return nil
}

// jobMetadataColumns lifts the well-known metadata keys into their columns.
func jobMetadataColumns(metadata map[string]interface{}) (filename, mimeType, userID string, fileSize int64) {
	if metadata == nil {
		return
	}
	if fn, ok := metadata["filename"].(string); ok {
		filename = fn
	}
	if mt, ok := metadata["mimeType"].(string); ok {
		mimeType = mt
	}
	if uid, ok := metadata["userId"].(string); ok {
		userID = uid
	}
	switch fs := metadata["fileSize"].(type) {
	case int64:
		fileSize = fs
	case int:
		fileSize = int64(fs)
	case float64:
		fileSize = int64(fs)
	}
	return
}

// InsertResult stores an extraction outcome and returns its creation time.
func (p *PostgresClient) InsertResult(ctx context.Context, rec *ResultRecord) (time.Time, error) {
	if rec.ID == "" || rec.JobID == "" {
		return time.Time{}, fmt.Errorf("result ID and job ID are required")
	}

	paramsJSON, err := json.Marshal(nonNilParameters(rec.Parameters))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	warnings := make([]string, len(rec.Warnings))
	for i, w := range rec.Warnings {
		warnings[i] = sanitizeTextForPostgres(w)
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal warnings: %w", err)
	}

	var features interface{}
	if len(rec.Features) > 0 {
		features = pq.Array(rec.Features)
	}

	query := `
		INSERT INTO reportscan.extraction_results (
			id, job_id, success, code, message, profile,
			raw_text, parameters, warnings, features, qdrant_point_id,
			created_at
		) VALUES (
			$1::uuid, $2::uuid, $3, NULLIF($4, ''), $5, NULLIF($6, ''),
			$7, $8::jsonb, $9::jsonb, $10,
			CASE WHEN $11 = '' THEN NULL ELSE $11::uuid END,
			NOW()
		)
		RETURNING created_at
	`

	var createdAt time.Time
	err = p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.JobID,
		rec.Success,
		rec.Code,
		sanitizeTextForPostgres(rec.Message),
		rec.Profile,
		sanitizeTextForPostgres(rec.RawText),
		paramsJSON,
		warningsJSON,
		features,
		rec.QdrantPointID,
	).Scan(&createdAt)

	if err != nil {
		return time.Time{}, fmt.Errorf("failed to insert extraction result (job=%s): %w", rec.JobID, err)
	}

	return createdAt, nil
}

const resultColumns = `
	id, job_id, success, COALESCE(code, ''), message, COALESCE(profile, ''),
	raw_text, parameters, warnings, features, COALESCE(qdrant_point_id::text, ''),
	created_at
`

// GetResult retrieves a stored outcome by ID.
func (p *PostgresClient) GetResult(ctx context.Context, resultID string) (*ResultRecord, error) {
	if resultID == "" {
		return nil, fmt.Errorf("result ID is required")
	}

	query := `SELECT ` + resultColumns + ` FROM reportscan.extraction_results WHERE id = $1::uuid`
	rec, err := scanResult(p.db.QueryRowContext(ctx, query, resultID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: extraction result %s", ErrNotFound, resultID)
	}
	return rec, err
}

// GetLatestResultForJob retrieves the newest outcome recorded for a job.
func (p *PostgresClient) GetLatestResultForJob(ctx context.Context, jobID string) (*ResultRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `SELECT ` + resultColumns + `
		FROM reportscan.extraction_results
		WHERE job_id = $1::uuid
		ORDER BY created_at DESC
		LIMIT 1`
	rec, err := scanResult(p.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no extraction result for job %s", ErrNotFound, jobID)
	}
	return rec, err
}

func scanResult(row *sql.Row) (*ResultRecord, error) {
	var (
		rec          ResultRecord
		paramsJSON   []byte
		warningsJSON []byte
		features     pq.Float32Array
	)

	err := row.Scan(
		&rec.ID, &rec.JobID, &rec.Success, &rec.Code, &rec.Message, &rec.Profile,
		&rec.RawText, &paramsJSON, &warningsJSON, &features, &rec.QdrantPointID,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction result: %w", err)
	}

	if err := json.Unmarshal(paramsJSON, &rec.Parameters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}
	if err := json.Unmarshal(warningsJSON, &rec.Warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}
	rec.Features = []float32(features)

	return &rec, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, filename, mime_type, file_size,
			status, engine, parameter_count, processing_time_ms,
			error_code, error_message, metadata,
			created_at, updated_at
		FROM reportscan.extraction_jobs
		WHERE id = $1::uuid
	`

	var (
		id, userID, filename, status          string
		mimeType, engine, errorCode, errorMsg sql.NullString
		fileSize, processingTimeMs            sql.NullInt64
		parameterCount                        sql.NullInt64
		metadataJSON                          []byte
		createdAt, updatedAt                  time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &userID, &filename, &mimeType, &fileSize,
		&status, &engine, &parameterCount, &processingTimeMs,
		&errorCode, &errorMsg, &metadataJSON,
		&createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"userId":    userID,
		"filename":  filename,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if mimeType.Valid {
		result["mimeType"] = mimeType.String
	}
	if fileSize.Valid {
		result["fileSize"] = fileSize.Int64
	}
	if engine.Valid {
		result["engine"] = engine.String
	}
	if parameterCount.Valid {
		result["parameterCount"] = parameterCount.Int64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMsg.Valid {
		result["errorMessage"] = errorMsg.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

func nonNilParameters(params map[string]float64) map[string]float64 {
	if params == nil {
		return map[string]float64{}
	}
	return params
}

// sanitizeTextForPostgres drops NUL bytes, which TEXT and JSONB reject, and
// turns the other C0 control characters OCR emits into spaces. Tab, newline
// and carriage return are kept.
func sanitizeTextForPostgres(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0:
			return -1
		case r < 0x20 && r != '\t' && r != '\n' && r != '\r':
			return ' '
		}
		return r
	}, s)
}

// sanitizeValueForPostgres applies sanitizeTextForPostgres to every string
// in a decoded JSON-like value, map keys included.
func sanitizeValueForPostgres(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return sanitizeTextForPostgres(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = sanitizeTextForPostgres(s)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValueForPostgres(item)
		}
		return out
	case map[string]interface{}:
		if val == nil {
			return val
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[sanitizeTextForPostgres(k)] = sanitizeValueForPostgres(item)
		}
		return out
	}
	return v
}
