package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TaskExtractParameters is the asynq task type for report extraction jobs.
const TaskExtractParameters = "extract-parameters"

// JobData is the task payload. FileBuffer is sent as base64; the legacy
// Node.js Buffer object form is also accepted.
type JobData struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId"`
	Filename   string                 `json:"filename"`
	MimeType   string                 `json:"mimeType,omitempty"`
	FileSize   int64                  `json:"fileSize,omitempty"`
	FileURL    string                 `json:"fileUrl,omitempty"`
	FileBuffer []byte                 `json:"fileBuffer,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON handles both fileBuffer encodings.
func (j *JobData) UnmarshalJSON(data []byte) error {
	type Alias JobData
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(j),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	j.FileBuffer = nil
	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		j.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		j.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			j.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks that the job has a UUID job ID and names a report source.
func (j *JobData) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if err := ValidateJobID(j.JobID); err != nil {
		return err
	}
	if len(j.FileBuffer) == 0 && j.FileURL == "" {
		return fmt.Errorf("job %s has neither fileBuffer nor fileUrl", j.JobID)
	}
	return nil
}

// ValidateJobID reports whether id can key the extraction_jobs table.
func ValidateJobID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("jobId %q is not a UUID: %w", id, err)
	}
	return nil
}
