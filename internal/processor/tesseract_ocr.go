/**
 * Tesseract OCR - local recognition engine
 *
 * Offline OCR through gosseract. A fresh client is created per call so the
 * engine can be shared across worker goroutines.
 */

package processor

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine runs recognition with the local Tesseract library
type TesseractEngine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string
}

// NewTesseractEngine creates a new Tesseract engine
func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	languages := []string{"eng"}
	if cfg != nil && len(cfg.Languages) > 0 {
		languages = append([]string(nil), cfg.Languages...)
	}

	return &TesseractEngine{
		languages:     languages,
		clientFactory: gosseract.NewClient,
	}
}

func (t *TesseractEngine) Name() string { return "tesseract" }

// IsAvailable reports whether the Tesseract library answers a version query.
func (t *TesseractEngine) IsAvailable(ctx context.Context) (ok bool) {
	if ctx.Err() != nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return gosseract.Version() != ""
}

// Recognize performs OCR on img using the page segmentation mode and
// whitelist from profile. Engine mode 3 is Tesseract's default and needs no setting.
func (t *TesseractEngine) Recognize(ctx context.Context, img *NormalizedImage, profile RecognitionProfile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := img.PNG()
	if err != nil {
		return "", err
	}

	client := t.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(profile.PageSegMode)); err != nil {
		return "", fmt.Errorf("set page segmentation mode %d: %w", profile.PageSegMode, err)
	}
	if profile.Whitelist != "" {
		if err := client.SetWhitelist(profile.Whitelist); err != nil {
			return "", fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed (%s): %w", profile, err)
	}

	return text, nil
}
