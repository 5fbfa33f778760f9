package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned by DecodeImage for recognizable but
// non-image payloads such as PDFs.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// DecodeImage decodes a report photo or scan. It returns the detected MIME type
// alongside the image so callers can record it.
func DecodeImage(data []byte) (image.Image, string, error) {
	mimeType := detectMimeTypeFromMagicBytes(data)
	switch mimeType {
	case "application/pdf", "application/zip", "application/msword":
		return nil, mimeType, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, mimeType, fmt.Errorf("decode image: %w", err)
	}
	if mimeType == "" {
		mimeType = "image/" + format
	}
	return img, mimeType, nil
}

// detectMimeTypeFromMagicBytes detects the actual MIME type from file content magic bytes
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF, little- or big-endian
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	// ZIP (and Office documents, EPUB)
	if bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) {
		return "application/zip"
	}

	// MS Office legacy (DOC, XLS, PPT)
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}) {
		return "application/msword"
	}

	return ""
}
