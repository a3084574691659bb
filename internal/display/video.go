package display

import (
	"fmt"
	"image"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/itrash/kiosk/internal/monitoring"
)

// IdleVideo plays the attract-loop video shown while the kiosk is idle,
// decoded to raw RGB frames at the surface size.
//
// Pipeline: filesrc → decodebin → videoconvert → videoscale → videorate →
// capsfilter(RGB) → appsink. decodebin's pads are dynamic; they are linked
// from the pad-added callback. On EOS the pipeline restarts from the top.
type IdleVideo struct {
	pipeline *gst.Pipeline
	bounds   image.Rectangle
	frames   chan []byte
	stop     chan struct{}
}

// OpenIdleVideo builds and starts the attract-loop pipeline.
func OpenIdleVideo(path string, bounds image.Rectangle, maxFPS int) (*IdleVideo, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("filesrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create filesrc: %w", err)
	}
	src.SetProperty("location", path)

	decoder, err := gst.NewElement("decodebin")
	if err != nil {
		return nil, fmt.Errorf("failed to create decodebin: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	// Cap the decode rate; the render tick only ever wants the latest frame.
	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		bounds.Dx(), bounds.Dy(), maxFPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	// sync=true keeps playback at the video's natural pace.
	appsink.SetProperty("sync", true)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, decoder, converter, scaler, videorate, capsfilter, appsink.Element)
	if err := src.Link(decoder); err != nil {
		return nil, fmt.Errorf("failed to link filesrc to decodebin: %w", err)
	}
	if err := gst.ElementLinkMany(converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link video elements: %w", err)
	}

	// decodebin exposes its output pad only once the stream type is known.
	decoder.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := converter.GetStaticPad("sink")
		if sinkPad == nil {
			monitoring.Logf("display: videoconvert has no sink pad")
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			monitoring.Logf("display: failed to link decodebin pad: %v", ret)
		}
	})

	v := &IdleVideo{
		pipeline: pipeline,
		bounds:   bounds,
		frames:   make(chan []byte, 1),
		stop:     make(chan struct{}),
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: v.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start video pipeline: %w", err)
	}

	go v.watchBus()
	return v, nil
}

func (v *IdleVideo) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	select {
	case v.frames <- frame:
	default:
		select {
		case <-v.frames:
		default:
		}
		select {
		case v.frames <- frame:
		default:
		}
	}
	return gst.FlowOK
}

// watchBus restarts the pipeline when the video reaches its end, producing a
// seamless-enough attract loop.
func (v *IdleVideo) watchBus() {
	bus := v.pipeline.GetPipelineBus()
	for {
		select {
		case <-v.stop:
			return
		default:
		}
		msg := bus.TimedPop(500 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			monitoring.Debugf("display: attract loop restarting")
			v.pipeline.SetState(gst.StateNull)
			v.pipeline.SetState(gst.StatePlaying)
		case gst.MessageError:
			monitoring.Logf("display: video pipeline error: %s", msg.String())
		}
	}
}

// TryFrame returns the latest decoded frame as an RGBA image, or nil when no
// new frame arrived since the last call. Never blocks.
func (v *IdleVideo) TryFrame() *image.RGBA {
	select {
	case raw := <-v.frames:
		w, h := v.bounds.Dx(), v.bounds.Dy()
		if len(raw) != w*h*3 {
			monitoring.Debugf("display: dropping odd-sized video frame (%d bytes)", len(raw))
			return nil
		}
		img := image.NewRGBA(v.bounds)
		for y := 0; y < h; y++ {
			src := raw[y*w*3:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				dst[x*4+0] = src[x*3+0]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+2]
				dst[x*4+3] = 0xFF
			}
		}
		return img
	default:
		return nil
	}
}

// Close stops playback and the bus watcher.
func (v *IdleVideo) Close() error {
	close(v.stop)
	if err := v.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to stop video pipeline: %w", err)
	}
	return nil
}
