// Package imageutil decodes, scales and encodes images for the embedding
// service and for the MJPEG preview.
package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used when a caller passes a quality outside 1..100.
const DefaultJPEGQuality = 85

// ErrFrameSize is returned when a raw frame buffer does not match its dimensions.
var ErrFrameSize = errors.New("raw frame size does not match dimensions")

// Decode decodes any registered image format (jpeg, png, gif, bmp, webp).
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Dimensions reads only the image header.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin returns the size of a width x height image scaled down to fit maxSize.
func fitWithin(width, height, maxSize int) (int, int) {
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return width, height
	}
	if width > height {
		return maxSize, max(1, int(float64(height)*float64(maxSize)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSize)/float64(height))), maxSize
}

// Resize scales img down to fit within maxSize (width or height) keeping the
// aspect ratio. Smaller images are returned as is.
func Resize(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), maxSize)
	if w == bounds.Dx() && h == bounds.Dy() {
		return img
	}
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// NormalizeForEmbedding decodes data, downsizes it to maxSize and re-encodes
// it as JPEG so the embedding service always receives a consistent format.
func NormalizeForEmbedding(data []byte, maxSize int) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Resize(img, maxSize), DefaultJPEGQuality)
}

// BGR24ToImage converts packed BGR24 pixels into dst, allocating it when nil
// or sized differently.
func BGR24ToImage(raw []byte, width, height int, dst *image.RGBA) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(raw) != width*height*3 {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d", ErrFrameSize, len(raw), width, height)
	}
	if dst == nil || dst.Rect.Dx() != width || dst.Rect.Dy() != height {
		dst = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	pix := dst.Pix
	for i, j := 0, 0; i < len(raw); i, j = i+3, j+4 {
		pix[j] = raw[i+2]
		pix[j+1] = raw[i+1]
		pix[j+2] = raw[i]
		pix[j+3] = 0xff
	}
	return dst, nil
}

// BGR24ToJPEG converts one raw BGR24 frame to JPEG.
func BGR24ToJPEG(raw []byte, width, height, quality int) ([]byte, error) {
	img, err := BGR24ToImage(raw, width, height, nil)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(img, quality)
}

// DetectMIMEType detects the MIME type from image magic bytes.
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	return "application/octet-stream"
}
