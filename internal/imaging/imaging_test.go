package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func TestDecodePayload(t *testing.T) {
	raw := []byte("face-bytes")
	b64 := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "raw base64", payload: b64, want: "face-bytes"},
		{name: "data url", payload: "data:image/jpeg;base64," + b64, want: "face-bytes"},
		{name: "unpadded", payload: base64.RawStdEncoding.EncodeToString(raw), want: "face-bytes"},
		{name: "surrounding whitespace", payload: "  " + b64 + "\n", want: "face-bytes"},
		{name: "empty", payload: "", wantErr: true},
		{name: "not base64", payload: "%%%", wantErr: true},
		{name: "non image data url", payload: "data:text/plain;base64," + b64, wantErr: true},
		{name: "data url without comma", payload: "data:image/png;base64", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrepare_NoResizeReencodesJPEG(t *testing.T) {
	data := encodePNG(createTestImage(200, 100, color.White))

	p, err := Prepare(data, 1024)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if p.Format != "png" {
		t.Errorf("expected original format png, got %s", p.Format)
	}
	if p.Width != 200 || p.Height != 100 {
		t.Errorf("expected 200x100, got %dx%d", p.Width, p.Height)
	}
	_, format, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output, got %s", format)
	}
}

func TestPrepare_ResizeKeepsAspect(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"landscape", 2000, 1000, 500, 250},
		{"portrait", 1000, 2000, 250, 500},
		{"square", 800, 800, 500, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeJPEG(createTestImage(tt.width, tt.height, color.Black))
			p, err := Prepare(data, 500)
			if err != nil {
				t.Fatalf("Prepare failed: %v", err)
			}
			if p.Width != tt.wantW || p.Height != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, p.Width, p.Height)
			}
		})
	}
}

func TestPrepare_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"too small", encodePNG(createTestImage(32, 32, color.White))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.data, 1024)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", encodeJPEG(createTestImage(8, 8, color.White)), "image/jpeg"},
		{"png", encodePNG(createTestImage(8, 8, color.White)), "image/png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
		{"unknown", []byte("hello world!"), "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMIMEType(tt.data); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
