/**
 * OCR Types - Shared data structures for text recognition
 *
 * Common types used by the Tesseract engine, the remote vision engine,
 * and the recognition orchestrator.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
)

// Engine is the external text-recognition capability.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Recognize(ctx context.Context, img *NormalizedImage, profile RecognitionProfile) (string, error)
}

// RecognitionProfile is one engine configuration: OCR engine mode,
// page segmentation mode and an optional character whitelist.
type RecognitionProfile struct {
	Name        string `json:"name"`
	EngineMode  int    `json:"engineMode"`
	PageSegMode int    `json:"pageSegMode"`
	Whitelist   string `json:"whitelist,omitempty"`
}

func (p RecognitionProfile) String() string {
	return fmt.Sprintf("%s(oem=%d,psm=%d)", p.Name, p.EngineMode, p.PageSegMode)
}

// ReportWhitelist restricts recognition to the characters printed on lab reports.
const ReportWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz.,:;()[]{}%/- "

// Page segmentation modes, numbered as Tesseract numbers them.
const (
	PSMAuto         = 3
	PSMSingleColumn = 4
	PSMSingleBlock  = 6
	PSMSingleWord   = 8
)

// OEMDefault lets the engine pick LSTM or legacy based on what is installed.
const OEMDefault = 3

// DefaultProfiles returns the ordered profile list tried for every image.
// Order only matters for tie-breaking.
func DefaultProfiles() []RecognitionProfile {
	return []RecognitionProfile{
		{Name: "whitelist-block", EngineMode: OEMDefault, PageSegMode: PSMSingleBlock, Whitelist: ReportWhitelist},
		{Name: "auto", EngineMode: OEMDefault, PageSegMode: PSMAuto},
		{Name: "single-column", EngineMode: OEMDefault, PageSegMode: PSMSingleColumn},
		{Name: "single-block", EngineMode: OEMDefault, PageSegMode: PSMSingleBlock},
		{Name: "single-word", EngineMode: OEMDefault, PageSegMode: PSMSingleWord},
	}
}

// RecognizedText is the best text found across profiles and the profile that produced it.
type RecognizedText struct {
	Text    string             `json:"text"`
	Profile RecognitionProfile `json:"profile"`
}

// Empty reports whether no profile produced any text.
func (r RecognizedText) Empty() bool {
	return r.Text == ""
}

// NormalizedImage is a single-channel binarized raster derived from a report image.
type NormalizedImage struct {
	gray *image.Gray
}

// NewNormalizedImage wraps an already binarized grayscale raster.
func NewNormalizedImage(gray *image.Gray) *NormalizedImage {
	return &NormalizedImage{gray: gray}
}

// Gray returns the underlying raster. Callers must not modify it.
func (n *NormalizedImage) Gray() *image.Gray {
	return n.gray
}

func (n *NormalizedImage) Width() int {
	return n.gray.Bounds().Dx()
}

func (n *NormalizedImage) Height() int {
	return n.gray.Bounds().Dy()
}

// PNG encodes the raster for engines that take encoded bytes.
func (n *NormalizedImage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, n.gray); err != nil {
		return nil, fmt.Errorf("encode normalized image: %w", err)
	}
	return buf.Bytes(), nil
}
