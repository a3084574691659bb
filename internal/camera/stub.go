package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
)

// StubCamera serves a fixed JPEG on every Capture. Dev mode (-dev) uses it so
// the full capture/classify path runs without a V4L2 device.
type StubCamera struct {
	frame []byte
}

// NewStubCamera returns a stub serving a generated gray test card.
func NewStubCamera() *StubCamera {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	for x := 0; x < 64; x++ {
		img.Set(x, x, color.RGBA{R: 0xFF, A: 0xFF})
		img.Set(63-x, x, color.RGBA{R: 0xFF, A: 0xFF})
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	return &StubCamera{frame: buf.Bytes()}
}

// NewFileCamera returns a stub serving the JPEG at path.
func NewFileCamera(path string) (*StubCamera, error) {
	frame, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame file: %w", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(frame)); err != nil {
		return nil, fmt.Errorf("frame file %s is not a JPEG: %w", path, err)
	}
	return &StubCamera{frame: frame}, nil
}

func (s *StubCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.frame, nil
}

func (s *StubCamera) Close() error { return nil }
