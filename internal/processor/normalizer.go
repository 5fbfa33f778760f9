package processor

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ImageNormalizer turns a report photo into a raster ready for recognition.
type ImageNormalizer interface {
	Normalize(img image.Image) (*NormalizedImage, error)
}

// Normalizer applies the fixed OpenCV chain: grayscale, 5x5 Gaussian blur,
// Otsu binarization and a 2x2 morphological close.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize never modifies img. The result has the same width and height.
func (n *Normalizer) Normalize(img image.Image) (*NormalizedImage, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("normalize: empty image")
	}

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("normalize: convert to mat: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(blurred, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	kernel := gocv.Ones(2, 2, gocv.MatTypeCV8U)
	defer kernel.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(binary, &closed, gocv.MorphClose, kernel)

	out, err := closed.ToImage()
	if err != nil {
		return nil, fmt.Errorf("normalize: convert from mat: %w", err)
	}

	g, ok := out.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("normalize: expected single-channel output, got %T", out)
	}

	return NewNormalizedImage(g), nil
}
