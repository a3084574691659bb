// Package camera captures still frames of the staging area for
// classification. The real camera is a V4L2 webcam read through a GStreamer
// pipeline; dev mode substitutes a stub that serves canned frames.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/itrash/kiosk/internal/monitoring"
)

// Camera produces one JPEG-encoded frame per Capture call.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// jpegQuality balances upload size against what the vision model needs.
const jpegQuality = 85

// Options configures the V4L2 capture pipeline.
type Options struct {
	Device string
	Width  int
	Height int
}

// GstCamera keeps a GStreamer pipeline in the PLAYING state so Capture can
// return a fresh frame without device open/negotiate latency.
//
// Pipeline: v4l2src → videoconvert → videoscale → capsfilter(RGB) → appsink
type GstCamera struct {
	opts     Options
	pipeline *gst.Pipeline
	frames   chan []byte
}

// New opens the capture device and starts the pipeline.
func New(opts Options) (*GstCamera, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", opts.Device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", opts.Width, opts.Height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	c := &GstCamera{
		opts:     opts,
		pipeline: pipeline,
		frames:   make(chan []byte, 1),
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start capture pipeline: %w", err)
	}
	return c, nil
}

// onNewSample copies the latest raw RGB frame into the one-slot frame
// channel, displacing any older frame that Capture has not consumed yet.
func (c *GstCamera) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		monitoring.Debugf("camera: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		monitoring.Debugf("camera: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		monitoring.Debugf("camera: empty buffer, skipping frame")
		return gst.FlowOK
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	select {
	case c.frames <- frame:
	default:
		select {
		case <-c.frames:
		default:
		}
		select {
		case c.frames <- frame:
		default:
		}
	}
	return gst.FlowOK
}

// Capture waits for the next frame from the pipeline and returns it as JPEG.
func (c *GstCamera) Capture(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-c.frames:
		return EncodeRGBFrame(frame, c.opts.Width, c.opts.Height)
	}
}

// Close stops the pipeline and releases the device.
func (c *GstCamera) Close() error {
	if c.pipeline == nil {
		return nil
	}
	if err := c.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop capture pipeline: %w", err)
	}
	return nil
}

// EncodeRGBFrame converts one packed 24-bit RGB frame to JPEG.
func EncodeRGBFrame(raw []byte, width, height int) ([]byte, error) {
	want := width * height * 3
	if len(raw) != want {
		return nil, fmt.Errorf("rgb frame is %d bytes, want %d for %dx%d", len(raw), want, width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := raw[y*width*3:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			dst[x*4+0] = src[x*3+0]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xFF
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
