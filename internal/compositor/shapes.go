package compositor

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/gogpu/gg"
	"github.com/satindergrewal/screenrec/internal/overlay"
)

// shapeKey identifies a cached mask/border pair.
type shapeKey struct {
	shape overlay.Shape
	w, h  int
}

// shapeImages holds the rasterized clip mask and border outline for one box size.
type shapeImages struct {
	mask   *image.Alpha
	border *image.NRGBA
}

// tracePath appends the outline of shape fitted to the given rectangle.
func tracePath(dc *gg.Context, shape overlay.Shape, x, y, w, h float64) {
	switch shape {
	case overlay.Circle:
		dc.DrawCircle(x+w/2, y+h/2, w/2)
	case overlay.Rounded:
		overlay.RoundedRect(dc, x, y, w, h, overlay.CornerRadius)
	default:
		dc.MoveTo(x, y)
		dc.LineTo(x+w, y)
		dc.LineTo(x+w, y+h)
		dc.LineTo(x, y+h)
		dc.ClosePath()
	}
}

// rasterizeShape renders the clip mask and the inset border for a w×h box.
func rasterizeShape(shape overlay.Shape, w, h int) (*shapeImages, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("empty webcam box %dx%d", w, h)
	}

	fill := gg.NewContext(w, h)
	defer fill.Close()
	fill.SetRGBA(1, 1, 1, 1)
	tracePath(fill, shape, 0, 0, float64(w), float64(h))
	if err := fill.Fill(); err != nil {
		return nil, fmt.Errorf("fill %s mask: %w", shape, err)
	}

	stroke := gg.NewContext(w, h)
	defer stroke.Close()
	stroke.SetHexColor(overlay.BorderColor)
	stroke.SetLineWidth(overlay.BorderWidth)
	inset := float64(overlay.BorderInset)
	tracePath(stroke, shape, inset, inset, float64(w)-2*inset, float64(h)-2*inset)
	if err := stroke.Stroke(); err != nil {
		return nil, fmt.Errorf("stroke %s border: %w", shape, err)
	}

	return &shapeImages{
		mask:   alphaMask(fill.Image()),
		border: straightRGBA(stroke.Image()),
	}, nil
}

// alphaMask extracts the coverage channel of img.
func alphaMask(img image.Image) *image.Alpha {
	b := img.Bounds()
	mask := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	if rgba, ok := img.(*image.RGBA); ok {
		for i := 0; i < len(mask.Pix); i++ {
			mask.Pix[i] = rgba.Pix[i*4+3]
		}
		return mask
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := color.AlphaModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Alpha)
			mask.SetAlpha(x, y, a)
		}
	}
	return mask
}

// straightRGBA views gg's output as non-premultiplied pixels, which is how
// its pixmap stores them.
func straightRGBA(img image.Image) *image.NRGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return &image.NRGBA{Pix: rgba.Pix, Stride: rgba.Stride, Rect: rgba.Rect}
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// shapeCacheSize bounds how many mask/border pairs stay alive.
const shapeCacheSize = 4

// shapeCache is a small most-recently-used cache of rasterized shapes.
type shapeCache struct {
	mu      sync.Mutex
	max     int
	entries []shapeEntry // most recent first
}

type shapeEntry struct {
	key shapeKey
	img *shapeImages
}

func newShapeCache(max int) *shapeCache {
	if max < 1 {
		max = 1
	}
	return &shapeCache{max: max}
}

// get returns the cached images for (shape, w, h), rasterizing on a miss.
func (sc *shapeCache) get(shape overlay.Shape, w, h int) (*shapeImages, error) {
	key := shapeKey{shape: shape, w: w, h: h}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for i, e := range sc.entries {
		if e.key == key {
			copy(sc.entries[1:i+1], sc.entries[:i])
			sc.entries[0] = e
			return e.img, nil
		}
	}

	img, err := rasterizeShape(shape, w, h)
	if err != nil {
		return nil, err
	}
	if len(sc.entries) < sc.max {
		sc.entries = append(sc.entries, shapeEntry{})
	}
	copy(sc.entries[1:], sc.entries[:len(sc.entries)-1])
	sc.entries[0] = shapeEntry{key: key, img: img}
	return img, nil
}

// size reports how many shapes are cached.
func (sc *shapeCache) size() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.entries)
}
