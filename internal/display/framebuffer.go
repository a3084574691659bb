package display

import (
	"fmt"
	"image"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const fbioGetVScreenInfo = 0x4600

type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MsbRight uint32
}

// fbVarScreeninfo mirrors struct fb_var_screeninfo from linux/fb.h.
type fbVarScreeninfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          fbBitfield
	Green        fbBitfield
	Blue         fbBitfield
	Transp       fbBitfield
	Nonstd       uint32
	Activate     uint32
	Height       uint32
	Width        uint32
	AccelFlags   uint32
	Pixclock     uint32
	LeftMargin   uint32
	RightMargin  uint32
	UpperMargin  uint32
	LowerMargin  uint32
	HsyncLen     uint32
	VsyncLen     uint32
	Sync         uint32
	Vmode        uint32
	Rotate       uint32
	Colorspace   uint32
	Reserved     [4]uint32
}

// Framebuffer is a Surface over a Linux framebuffer device. Supports the two
// pixel formats the target panels use: 32bpp XRGB-style and 16bpp RGB565.
type Framebuffer struct {
	file   *os.File
	info   fbVarScreeninfo
	stride int
	buf    []byte
}

// OpenFramebuffer opens the framebuffer device and queries its geometry.
func OpenFramebuffer(path string) (*Framebuffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open framebuffer %s: %w", path, err)
	}

	var info fbVarScreeninfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fbioGetVScreenInfo, uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		f.Close()
		return nil, fmt.Errorf("failed to query framebuffer geometry: %w", errno)
	}

	if info.BitsPerPixel != 32 && info.BitsPerPixel != 16 {
		f.Close()
		return nil, fmt.Errorf("unsupported framebuffer depth: %d bpp", info.BitsPerPixel)
	}

	stride := int(info.XResVirtual) * int(info.BitsPerPixel) / 8
	return &Framebuffer{
		file:   f,
		info:   info,
		stride: stride,
		buf:    make([]byte, stride*int(info.YRes)),
	}, nil
}

// Bounds returns the visible resolution.
func (fb *Framebuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(fb.info.XRes), int(fb.info.YRes))
}

// Blit converts the frame to the device pixel format and writes it in one
// syscall.
func (fb *Framebuffer) Blit(img *image.RGBA) error {
	if img.Bounds() != fb.Bounds() {
		return fmt.Errorf("frame is %v, surface is %v", img.Bounds(), fb.Bounds())
	}

	w, h := int(fb.info.XRes), int(fb.info.YRes)
	switch fb.info.BitsPerPixel {
	case 32:
		ro := fb.info.Red.Offset / 8
		go_ := fb.info.Green.Offset / 8
		bo := fb.info.Blue.Offset / 8
		for y := 0; y < h; y++ {
			src := img.Pix[y*img.Stride:]
			dst := fb.buf[y*fb.stride:]
			for x := 0; x < w; x++ {
				dst[x*4+int(ro)] = src[x*4+0]
				dst[x*4+int(go_)] = src[x*4+1]
				dst[x*4+int(bo)] = src[x*4+2]
			}
		}
	case 16:
		for y := 0; y < h; y++ {
			src := img.Pix[y*img.Stride:]
			dst := fb.buf[y*fb.stride:]
			for x := 0; x < w; x++ {
				r, g, b := src[x*4+0], src[x*4+1], src[x*4+2]
				px := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
				dst[x*2+0] = byte(px)
				dst[x*2+1] = byte(px >> 8)
			}
		}
	}

	if _, err := fb.file.WriteAt(fb.buf, 0); err != nil {
		return fmt.Errorf("framebuffer write failed: %w", err)
	}
	return nil
}

// Close releases the device.
func (fb *Framebuffer) Close() error {
	return fb.file.Close()
}
