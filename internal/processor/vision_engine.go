package processor

import (
	"context"
	"time"

	"github.com/adverant/nexus/reportscan-worker/internal/clients"
)

// VisionEngine delegates recognition to the remote vision OCR service.
type VisionEngine struct {
	client   *clients.VisionClient
	language string
}

// NewVisionEngine creates an engine backed by client.
func NewVisionEngine(client *clients.VisionClient, language string) *VisionEngine {
	if language == "" {
		language = "en"
	}
	return &VisionEngine{client: client, language: language}
}

func (v *VisionEngine) Name() string { return "vision" }

// IsAvailable runs the service health check with a 5 second cap.
func (v *VisionEngine) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return v.client.HealthCheck(ctx) == nil
}

// Recognize sends img with the profile's settings and returns the service's text.
func (v *VisionEngine) Recognize(ctx context.Context, img *NormalizedImage, profile RecognitionProfile) (string, error) {
	data, err := img.PNG()
	if err != nil {
		return "", err
	}

	resp, err := v.client.ExtractTextFromBytes(ctx, data, v.language, profile.EngineMode, profile.PageSegMode, profile.Whitelist)
	if err != nil {
		return "", err
	}
	return resp.Data.Text, nil
}
