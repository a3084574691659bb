package camera

import (
	"bytes"
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRGBFrame(t *testing.T) {
	const w, h = 8, 4
	raw := make([]byte, w*h*3)
	for i := 0; i < len(raw); i += 3 {
		raw[i] = 0xFF // solid red
	}

	out, err := EncodeRGBFrame(raw, w, h)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, w, cfg.Width)
	require.Equal(t, h, cfg.Height)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, _ := img.At(4, 2).RGBA()
	require.Greater(t, r, uint32(0xC000), "red channel should dominate")
	require.Less(t, g, uint32(0x4000))
	require.Less(t, b, uint32(0x4000))
}

func TestEncodeRGBFrameSizeMismatch(t *testing.T) {
	_, err := EncodeRGBFrame(make([]byte, 10), 8, 4)
	require.Error(t, err)
}

func TestStubCameraServesJPEG(t *testing.T) {
	cam := NewStubCamera()
	defer cam.Close()

	frame, err := cam.Capture(context.Background())
	require.NoError(t, err)
	_, err = jpeg.DecodeConfig(bytes.NewReader(frame))
	require.NoError(t, err)

	again, err := cam.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, frame, again, "stub frames should be stable")
}

func TestStubCameraHonorsContext(t *testing.T) {
	cam := NewStubCamera()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cam.Capture(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileCamera(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "frame.jpg")
	stub := NewStubCamera()
	frame, err := stub.Capture(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, frame, 0o644))

	cam, err := NewFileCamera(path)
	require.NoError(t, err)
	got, err := cam.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, frame, got)

	bad := filepath.Join(dir, "notjpeg.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("plain text"), 0o644))
	_, err = NewFileCamera(bad)
	require.Error(t, err)

	_, err = NewFileCamera(filepath.Join(dir, "missing.jpg"))
	require.Error(t, err)
}
