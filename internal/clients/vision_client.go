/**
 * Vision OCR Client - remote text recognition service
 *
 * Sends normalized report images to a vision OCR service over HTTP and
 * returns the recognized text. Used when OCR_ENGINE=vision.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// VisionClient handles communication with the vision OCR service
type VisionClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image       string                 `json:"image"`  // Base64 encoded image
	Format      string                 `json:"format"` // "base64"
	Language    string                 `json:"language"`
	PageSegMode int                    `json:"pageSegMode"`
	EngineMode  int                    `json:"engineMode"`
	Whitelist   string                 `json:"whitelist,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// VisionOCRResponse represents a synchronous response from the vision endpoint
type VisionOCRResponse struct {
	Success bool          `json:"success"`
	Data    VisionOCRData `json:"data"`
	Message string        `json:"message"`
}

// VisionOCRData contains the extracted text and metadata
type VisionOCRData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// NewVisionClient creates a new vision OCR client
func NewVisionClient(baseURL string) *VisionClient {
	return &VisionClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("VisionClient"),
	}
}

// ExtractText extracts text from an image
func (c *VisionClient) ExtractText(ctx context.Context, req *VisionOCRRequest) (*VisionOCRResponse, error) {
	endpoint := fmt.Sprintf("%s/api/vision/extract-text", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "reportscan-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to vision service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var ocrResp VisionOCRResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !ocrResp.Success {
		return nil, fmt.Errorf("vision operation failed: %s", ocrResp.Message)
	}

	c.logger.Debug("Text extraction complete",
		"modelUsed", ocrResp.Data.ModelUsed,
		"confidence", ocrResp.Data.Confidence,
		"processingTime", ocrResp.Data.ProcessingTime,
		"textLength", len(ocrResp.Data.Text))

	return &ocrResp, nil
}

// ExtractTextFromBytes handles base64 encoding of the image
func (c *VisionClient) ExtractTextFromBytes(ctx context.Context, imageData []byte, language string, engineMode, pageSegMode int, whitelist string) (*VisionOCRResponse, error) {
	req := &VisionOCRRequest{
		Image:       base64.StdEncoding.EncodeToString(imageData),
		Format:      "base64",
		Language:    language,
		EngineMode:  engineMode,
		PageSegMode: pageSegMode,
		Whitelist:   whitelist,
		Metadata: map[string]interface{}{
			"source":    "reportscan-worker",
			"timestamp": time.Now().Unix(),
		},
	}

	return c.ExtractText(ctx, req)
}

// HealthCheck verifies the vision service is available
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
