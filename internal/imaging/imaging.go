// Package imaging turns client supplied face images into the normalized JPEG
// that providers receive and the image store keeps.
package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
)

const (
	// MinDimension is the smallest accepted width or height in pixels.
	MinDimension = 64
	// DefaultMaxDimension bounds the longer side of prepared images.
	DefaultMaxDimension = 1024
	jpegQuality         = 85
)

// Prepared is a decoded, resized and re-encoded image.
type Prepared struct {
	Data   []byte // JPEG
	Width  int
	Height int
	Format string // format of the original payload
}

// DecodePayload accepts raw base64 or a data:image/...;base64, URL.
func DecodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, apperrors.Validation("image is required")
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, apperrors.Validation("malformed data URL")
		}
		header := payload[:comma]
		if !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
			return nil, apperrors.Validation("image must be a base64 encoded data:image URL")
		}
		payload = payload[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindValidation, err, "image is not valid base64")
		}
	}
	if len(data) == 0 {
		return nil, apperrors.Validation("image is empty")
	}
	return data, nil
}

// Prepare decodes the image, rejects tiny inputs and resizes it so neither
// side exceeds maxSize while keeping the aspect ratio. The result is always JPEG.
func Prepare(data []byte, maxSize int) (*Prepared, error) {
	if len(data) == 0 {
		return nil, apperrors.Validation("image is empty")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxDimension
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "image could not be decoded")
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width < MinDimension || height < MinDimension {
		return nil, apperrors.Newf(apperrors.KindValidation,
			"image is too small (%dx%d, minimum %dpx)", width, height, MinDimension)
	}

	out := img
	if width > maxSize || height > maxSize {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxSize
			newHeight = int(float64(height) * float64(maxSize) / float64(width))
		} else {
			newHeight = maxSize
			newWidth = int(float64(width) * float64(maxSize) / float64(height))
		}
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "failed to encode image")
	}

	b := out.Bounds()
	return &Prepared{
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
	}, nil
}

// DetectMIMEType detects the MIME type from image magic bytes.
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0x42 && data[1] == 0x4D:
		return "image/bmp"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}
