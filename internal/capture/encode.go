package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// JPEG size reduction
const (
	MinQuality   = 10
	QualityDecay = 0.9
	ScaleStep    = 0.75
	MinDimension = 64
)

// EncodeJPEG encodes img as a base64 JPEG payload at quality (0..1). When the
// payload would exceed maxBytes the quality decays, then the image is scaled
// down until it fits.
func EncodeJPEG(img image.Image, quality float64, maxBytes int) (string, error) {
	q := clampQuality(int(quality * 100))

	data, err := encodeJPEG(img, q)
	if err != nil {
		return "", err
	}

	if maxBytes <= 0 || fits(data, maxBytes) {
		return base64.StdEncoding.EncodeToString(data), nil
	}

	for q > MinQuality && !fits(data, maxBytes) {
		q = int(float64(q) * QualityDecay)
		if q < MinQuality {
			q = MinQuality
		}
		if data, err = encodeJPEG(img, q); err != nil {
			return "", err
		}
	}

	current := img
	for !fits(data, maxBytes) {
		b := current.Bounds()
		w, h := int(float64(b.Dx())*ScaleStep), int(float64(b.Dy())*ScaleStep)
		if w < MinDimension || h < MinDimension {
			return "", fmt.Errorf("frame does not fit in %d bytes at %dx%d", maxBytes, b.Dx(), b.Dy())
		}
		current = Scale(current, w, h)
		if data, err = encodeJPEG(current, q); err != nil {
			return "", err
		}
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeImage decodes a JPEG, PNG, GIF or WebP image
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Scale resizes src to w x h
func Scale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// FitWithin returns src scaled down to fit maxW x maxH keeping the aspect
// ratio. Images already within bounds, or zero bounds, return src unchanged.
func FitWithin(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	if maxW <= 0 || maxH <= 0 || (b.Dx() <= maxW && b.Dy() <= maxH) {
		return src
	}

	ratio := min(float64(maxW)/float64(b.Dx()), float64(maxH)/float64(b.Dy()))
	w := max(int(float64(b.Dx())*ratio), 1)
	h := max(int(float64(b.Dy())*ratio), 1)
	return Scale(src, w, h)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func fits(data []byte, maxBytes int) bool {
	return base64.StdEncoding.EncodedLen(len(data)) <= maxBytes
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
