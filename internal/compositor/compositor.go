package compositor

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/satindergrewal/screenrec/internal/overlay"
	"golang.org/x/image/draw"
)

// Surface dimensions of the composite frame.
const (
	Width  = 1920
	Height = 1080
)

// VideoSource exposes the latest frame of a capture track.
// *media.Track satisfies it.
type VideoSource interface {
	ViewFrame(fn func(frame image.Image)) bool
}

// Sources are the inputs for one session. Webcam may be nil.
type Sources struct {
	Screen VideoSource
	Webcam VideoSource
}

// Compositor draws the screen and the clipped webcam overlay onto a fixed
// RGBA surface. One goroutine ticks it; any number of readers sample it.
type Compositor struct {
	mu      sync.RWMutex
	surface *image.RGBA
	scratch *image.RGBA

	shapes *shapeCache
	frames atomic.Uint64
	log    zerolog.Logger
}

// New creates a compositor with a black Width×Height surface.
func New(logger zerolog.Logger) *Compositor {
	c := &Compositor{
		surface: image.NewRGBA(image.Rect(0, 0, Width, Height)),
		shapes:  newShapeCache(shapeCacheSize),
		log:     logger.With().Str("context", "compositor").Logger(),
	}
	c.fillBlack()
	return c
}

// Size returns the surface dimensions.
func (c *Compositor) Size() (w, h int) {
	return Width, Height
}

// Frames returns how many ticks have been drawn.
func (c *Compositor) Frames() uint64 {
	return c.frames.Load()
}

// Run ticks every interval until ctx is cancelled. settings is read fresh
// on every tick.
func (c *Compositor) Run(ctx context.Context, interval time.Duration, src Sources, settings func() overlay.Settings) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Debug().Dur("interval", interval).Msg("draw_loop_started")
	defer c.log.Debug().Uint64("frames", c.Frames()).Msg("draw_loop_stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		c.Tick(src, settings())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick draws one composite frame. A failing source is logged and skipped.
func (c *Compositor) Tick(src Sources, s overlay.Settings) {
	// rasterize a new shape before taking the surface lock so readers
	// are not held up by a cache miss
	var shape *shapeImages
	var shapeErr error
	webcam := s.ShowWebcam && src.Webcam != nil
	if webcam {
		r := overlay.Layout(s, Width, Height).Rect()
		shape, shapeErr = c.shapes.get(s.Shape, r.Dx(), r.Dy())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fillBlack()

	if src.Screen != nil {
		if err := guard(func() error { return c.drawScreen(src.Screen) }); err != nil {
			c.log.Error().Err(err).Msg("draw_screen_failed")
		}
	}
	if webcam {
		if err := guard(func() error {
			if shapeErr != nil {
				return shapeErr
			}
			return c.drawWebcam(src.Webcam, s, shape)
		}); err != nil {
			c.log.Error().Err(err).Msg("draw_webcam_failed")
		}
	}
	c.frames.Add(1)
}

// guard turns a panic inside fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (c *Compositor) fillBlack() {
	draw.Draw(c.surface, c.surface.Bounds(), image.Black, image.Point{}, draw.Src)
}

func (c *Compositor) drawScreen(src VideoSource) error {
	dst := c.surface.Bounds()
	src.ViewFrame(func(frame image.Image) {
		fb := frame.Bounds()
		if fb.Size() == dst.Size() {
			draw.Draw(c.surface, dst, frame, fb.Min, draw.Src)
			return
		}
		draw.ApproxBiLinear.Scale(c.surface, dst, frame, fb, draw.Src, nil)
	})
	return nil
}

func (c *Compositor) drawWebcam(src VideoSource, s overlay.Settings, shape *shapeImages) error {
	box := overlay.Layout(s, Width, Height)
	r := box.Rect()

	var drawn bool
	src.ViewFrame(func(frame image.Image) {
		fb := frame.Bounds()
		crop := fb
		if s.Shape == overlay.Circle {
			crop = overlay.CoverRect(fb.Dx(), fb.Dy(), box.W, box.H).Add(fb.Min)
		}
		scratch := c.scratchFor(r.Dx(), r.Dy())
		draw.ApproxBiLinear.Scale(scratch, scratch.Bounds(), frame, crop, draw.Src, nil)
		drawn = true
	})
	if !drawn {
		return nil
	}

	draw.DrawMask(c.surface, r, c.scratch, image.Point{}, shape.mask, image.Point{}, draw.Over)
	if s.WebcamBorder {
		draw.Draw(c.surface, r, shape.border, image.Point{}, draw.Over)
	}
	return nil
}

func (c *Compositor) scratchFor(w, h int) *image.RGBA {
	if c.scratch == nil || c.scratch.Bounds().Dx() != w || c.scratch.Bounds().Dy() != h {
		c.scratch = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return c.scratch
}

// ReadPixels copies the surface as packed RGBA into dst, which must hold
// Width*Height*4 bytes. It returns the number of bytes copied.
func (c *Compositor) ReadPixels(dst []byte) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copy(dst, c.surface.Pix)
}

// Snapshot returns a copy of the surface.
func (c *Compositor) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img := image.NewRGBA(c.surface.Rect)
	copy(img.Pix, c.surface.Pix)
	return img
}

// Reset blackens the surface.
func (c *Compositor) Reset() {
	c.mu.Lock()
	c.fillBlack()
	c.mu.Unlock()
}
