package sink

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/zsiec/reel/internal/media"
)

// ErrNoPixels is returned by Image for metadata-only frames.
var ErrNoPixels = errors.New("frame carries no pixel data")

// Render is a latest-wins mailbox between the video pipeline and a
// renderer. Offer replaces any frame the renderer has not taken yet.
type Render struct {
	mu     sync.Mutex
	latest *media.VideoFrame
	notify chan struct{}

	offered atomic.Int64
	dropped atomic.Int64
}

// RenderStats counts frames offered and frames overwritten before the
// renderer took them.
type RenderStats struct {
	Offered int64
	Dropped int64
}

// NewRender creates an empty render mailbox.
func NewRender() *Render {
	return &Render{notify: make(chan struct{}, 1)}
}

// Offer stores f as the newest frame. It never blocks.
func (r *Render) Offer(f *media.VideoFrame) {
	r.offered.Add(1)
	r.mu.Lock()
	if r.latest != nil {
		r.dropped.Add(1)
	}
	r.latest = f
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Frames is signalled after Offer. Several offers may coalesce into one
// signal.
func (r *Render) Frames() <-chan struct{} { return r.notify }

// Latest takes the newest frame, leaving the mailbox empty.
func (r *Render) Latest() (*media.VideoFrame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.latest
	r.latest = nil
	return f, f != nil
}

// Stats returns the mailbox counters.
func (r *Render) Stats() RenderStats {
	return RenderStats{Offered: r.offered.Load(), Dropped: r.dropped.Load()}
}

// Image converts a decoded frame to an image.Image. 10-bit samples are
// reduced to 8 bits.
func Image(f *media.VideoFrame) (image.Image, error) {
	if len(f.Planes) == 0 {
		return nil, ErrNoPixels
	}
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case media.PixelFormatRGB24:
		img := image.NewRGBA(rect)
		src, stride := f.Planes[0], f.Strides[0]
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				o := y*stride + x*3
				img.SetRGBA(x, y, color.RGBA{R: src[o], G: src[o+1], B: src[o+2], A: 0xFF})
			}
		}
		return img, nil

	case media.PixelFormatYUV420P, media.PixelFormatYUV420P10:
		if len(f.Planes) != 3 {
			return nil, fmt.Errorf("%s frame has %d planes", f.Format, len(f.Planes))
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		copyPlane(img.Y, img.YStride, f.Planes[0], f.Strides[0], f.Width, f.Height, f.Format)
		copyPlane(img.Cb, img.CStride, f.Planes[1], f.Strides[1], cw, ch, f.Format)
		copyPlane(img.Cr, img.CStride, f.Planes[2], f.Strides[2], cw, ch, f.Format)
		return img, nil
	}
	return nil, fmt.Errorf("unsupported pixel format %s", f.Format)
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride, w, h int, format media.PixelFormat) {
	for y := 0; y < h; y++ {
		row := src[y*srcStride:]
		out := dst[y*dstStride : y*dstStride+w]
		if format != media.PixelFormatYUV420P10 {
			copy(out, row[:w])
			continue
		}
		for x := range out {
			v := uint16(row[2*x]) | uint16(row[2*x+1])<<8
			out[x] = byte(v >> 2)
		}
	}
}
