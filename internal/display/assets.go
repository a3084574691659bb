package display

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/itrash/kiosk/internal/monitoring"
	"github.com/itrash/kiosk/internal/state"
)

// Assets holds the per-phase stills, pre-scaled to the surface size at load
// time so the render tick never resamples.
type Assets struct {
	frames map[state.Phase]*image.RGBA
}

var assetPhases = []state.Phase{
	state.PhaseIdle,
	state.PhaseProcessing,
	state.PhaseResultBlue,
	state.PhaseResultYellow,
	state.PhaseResultBrown,
	state.PhaseReward,
	state.PhaseQRCode,
	state.PhaseIncorrect,
	state.PhaseError,
}

// placeholderColors give each phase a recognizable card when its media file
// is missing, so a half-provisioned kiosk still shows which phase it is in.
var placeholderColors = map[state.Phase]color.RGBA{
	state.PhaseIdle:         {R: 0x20, G: 0x20, B: 0x20, A: 0xFF},
	state.PhaseProcessing:   {R: 0xF0, G: 0xF0, B: 0xF0, A: 0xFF},
	state.PhaseResultBlue:   {B: 0xC0, A: 0xFF},
	state.PhaseResultYellow: {R: 0xC0, G: 0xC0, A: 0xFF},
	state.PhaseResultBrown:  {R: 0x8B, G: 0x45, B: 0x13, A: 0xFF},
	state.PhaseReward:       {G: 0xA0, A: 0xFF},
	state.PhaseQRCode:       {R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF},
	state.PhaseIncorrect:    {R: 0xC0, A: 0xFF},
	state.PhaseError:        {R: 0xC0, A: 0xFF},
}

// LoadAssets reads <phase>.jpg or <phase>.png for every phase from dir and
// scales each to bounds. Missing files fall back to a solid placeholder;
// unreadable files are an error.
func LoadAssets(dir string, bounds image.Rectangle) (*Assets, error) {
	a := &Assets{frames: make(map[state.Phase]*image.RGBA, len(assetPhases))}
	for _, phase := range assetPhases {
		img, err := loadPhaseImage(dir, phase)
		if err != nil {
			return nil, err
		}
		if img == nil {
			monitoring.Debugf("display: no media for %s, using placeholder", phase)
			a.frames[phase] = solidFrame(bounds, placeholderColors[phase])
			continue
		}
		a.frames[phase] = scaleToFit(img, bounds)
	}
	return a, nil
}

// Frame returns the pre-scaled still for a phase.
func (a *Assets) Frame(phase state.Phase) *image.RGBA {
	if f, ok := a.frames[phase]; ok {
		return f
	}
	return a.frames[state.PhaseError]
}

func loadPhaseImage(dir string, phase state.Phase) (image.Image, error) {
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		path := filepath.Join(dir, phase.String()+ext)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open media %s: %w", path, err)
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode media %s: %w", path, err)
		}
		return img, nil
	}
	return nil, nil
}

func solidFrame(bounds image.Rectangle, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[(y-bounds.Min.Y)*img.Stride:]
		for x := 0; x < bounds.Dx(); x++ {
			row[x*4+0] = c.R
			row[x*4+1] = c.G
			row[x*4+2] = c.B
			row[x*4+3] = c.A
		}
	}
	return img
}

// scaleToFit resamples src onto a letterboxed frame of the surface size,
// preserving aspect ratio.
func scaleToFit(src image.Image, bounds image.Rectangle) *image.RGBA {
	dst := solidFrame(bounds, color.RGBA{A: 0xFF})

	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	if sw == 0 || sh == 0 {
		return dst
	}
	bw, bh := bounds.Dx(), bounds.Dy()
	scale := float64(bw) / float64(sw)
	if s := float64(bh) / float64(sh); s < scale {
		scale = s
	}
	w := int(float64(sw) * scale)
	h := int(float64(sh) * scale)
	x0 := bounds.Min.X + (bw-w)/2
	y0 := bounds.Min.Y + (bh-h)/2

	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), src, src.Bounds(), draw.Over, nil)
	return dst
}
