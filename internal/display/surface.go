// Package display renders the kiosk's full-screen UI: one still per phase,
// a looping video while idle, and the LED color for the active phase. A
// fixed-rate tick drives it; each tick redraws only when something changed.
package display

import "image"

// Surface is a full-screen output target. The render loop owns it
// exclusively.
type Surface interface {
	// Bounds returns the drawable area.
	Bounds() image.Rectangle

	// Blit writes a full frame. The image must match Bounds.
	Blit(img *image.RGBA) error

	Close() error
}
