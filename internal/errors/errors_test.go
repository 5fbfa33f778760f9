package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessingErrorWrapping(t *testing.T) {
	err := NewProcessingTimeoutError("job-1", 5*time.Second, context.DeadlineExceeded)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "PROCESSING_TIMEOUT")
	assert.Contains(t, err.Error(), "caused by")

	wrapped := fmt.Errorf("job failed: %w", err)
	assert.Equal(t, ErrorProcessingTimeout, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(fmt.Errorf("plain")))
}

func TestToMap(t *testing.T) {
	err := NewInsufficientParametersError("job-2", 3, 5)
	m := err.ToMap()

	assert.Equal(t, "INSUFFICIENT_PARAMETERS", m["error_code"])
	assert.Equal(t, 3, m["found"])
	assert.Equal(t, 5, m["required"])
	assert.NotContains(t, m, "cause")

	withCause := NewStorageFailedError("job-3", fmt.Errorf("connection refused")).ToMap()
	assert.Equal(t, "connection refused", withCause["cause"])
}
