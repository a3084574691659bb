package display

import (
	"image"
	"time"

	"github.com/itrash/kiosk/internal/hardware"
	"github.com/itrash/kiosk/internal/monitoring"
	"github.com/itrash/kiosk/internal/state"
	"github.com/itrash/kiosk/internal/timeutil"
)

// reinitInterval rate-limits surface reopen attempts after a blit fault.
const reinitInterval = 2 * time.Second

// FrameSource supplies idle-phase video frames. Nil frames mean nothing new.
type FrameSource interface {
	TryFrame() *image.RGBA
}

// Options wires a render Loop. Video and Reopen may be nil.
type Options struct {
	Store   *state.Store
	Lights  hardware.Lighting
	Surface Surface
	Assets  *Assets
	Video   FrameSource
	Clock   timeutil.Clock

	// Reopen recreates the surface after a blit fault. Without it a faulted
	// surface just keeps the last good frame.
	Reopen func() (Surface, error)
}

// Loop renders the active phase. It is the sole phase-driven writer of
// lighting: the hardware loop never touches the LEDs, so exactly one LED
// write happens per phase change and redundant writes are suppressed here.
type Loop struct {
	store   *state.Store
	lights  hardware.Lighting
	surface Surface
	assets  *Assets
	video   FrameSource
	clock   timeutil.Clock
	reopen  func() (Surface, error)

	havePhase bool
	lastPhase state.Phase
	haveColor bool
	lastColor hardware.Color
	dirty     bool

	haveReinit time.Time
}

// NewLoop creates the render loop and marks the first frame dirty.
func NewLoop(opts Options) *Loop {
	return &Loop{
		store:   opts.Store,
		lights:  opts.Lights,
		surface: opts.Surface,
		assets:  opts.Assets,
		video:   opts.Video,
		clock:   opts.Clock,
		reopen:  opts.Reopen,
		dirty:   true,
	}
}

// phaseColor maps a phase to its LED color.
func phaseColor(p state.Phase) hardware.Color {
	switch p {
	case state.PhaseProcessing:
		return hardware.ColorWhite
	case state.PhaseResultBlue:
		return hardware.ColorBlue
	case state.PhaseResultYellow:
		return hardware.ColorYellow
	case state.PhaseResultBrown:
		return hardware.ColorBrown
	case state.PhaseReward:
		return hardware.ColorGreen
	case state.PhaseIncorrect, state.PhaseError:
		return hardware.ColorRed
	default:
		return hardware.ColorOff
	}
}

// Tick renders one frame interval: on a phase change it writes the LED color
// once and redraws; while idle it advances the attract loop; otherwise it
// only blits when the frame is dirty.
func (l *Loop) Tick() {
	phase := l.store.Phase()
	if !l.havePhase || phase != l.lastPhase {
		l.havePhase = true
		l.lastPhase = phase
		l.applyLighting(phaseColor(phase))
		l.dirty = true
	}

	var frame *image.RGBA
	if phase == state.PhaseIdle && l.video != nil {
		if f := l.video.TryFrame(); f != nil {
			frame = f
			l.dirty = true
		}
	}
	if !l.dirty {
		return
	}
	if frame == nil {
		frame = l.assets.Frame(phase)
	}

	if err := l.surface.Blit(frame); err != nil {
		monitoring.Logf("display: blit failed: %v", err)
		l.reinitSurface()
		return
	}
	l.dirty = false
}

// applyLighting writes the LED color, suppressing writes that would not
// change anything. A failed write is logged and retried on the next phase
// change; lighting is advisory, never load-bearing.
func (l *Loop) applyLighting(c hardware.Color) {
	if l.haveColor && c == l.lastColor {
		return
	}
	var err error
	if c == hardware.ColorOff {
		err = l.lights.ClearAll()
	} else {
		err = l.lights.SetAll(c)
	}
	if err != nil {
		monitoring.Logf("display: lighting write failed: %v", err)
		l.haveColor = false
		return
	}
	l.haveColor = true
	l.lastColor = c
}

// reinitSurface reopens the surface at most once per reinitInterval. The
// frame stays dirty so the next successful blit repaints it.
func (l *Loop) reinitSurface() {
	if l.reopen == nil {
		return
	}
	now := l.clock.Now()
	if !l.haveReinit.IsZero() && now.Sub(l.haveReinit) < reinitInterval {
		return
	}
	l.haveReinit = now

	surface, err := l.reopen()
	if err != nil {
		monitoring.Logf("display: surface reopen failed: %v", err)
		return
	}
	l.surface.Close()
	l.surface = surface
	monitoring.Logf("display: surface reopened")
}
