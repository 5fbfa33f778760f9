package errors

import (
	"errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the Report Scan Worker
 *
 * Pipeline terminal states reuse these codes on ExtractionOutcome.Code;
 * job-level failures are returned as *ProcessingError.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline terminal states
	ErrorEngineUnavailable      ErrorCode = "ENGINE_UNAVAILABLE"
	ErrorNoTextExtracted        ErrorCode = "NO_TEXT_EXTRACTED"
	ErrorNoParametersExtracted  ErrorCode = "NO_PARAMETERS_EXTRACTED"
	ErrorInsufficientParameters ErrorCode = "INSUFFICIENT_PARAMETERS"

	// Input errors
	ErrorImageDecodeFailed ErrorCode = "IMAGE_DECODE_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorFileTooLarge      ErrorCode = "FILE_TOO_LARGE"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the code of the first *ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewImageDecodeError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageDecodeFailed,
		Message:   "Failed to decode report image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewFileTooLargeError(jobID string, size, limit int64) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFileTooLarge,
		Message:   fmt.Sprintf("File size %d exceeds limit %d", size, limit),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_size": size,
			"limit":     limit,
		},
	}
}

func NewInsufficientParametersError(jobID string, found, required int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInsufficientParameters,
		Message:   fmt.Sprintf("Extracted %d parameters, at least %d required", found, required),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"found":    found,
			"required": required,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store extraction results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
