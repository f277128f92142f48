package overlay

import "image"

const (
	// Padding is the gap between the webcam box and the canvas edge.
	Padding = 40
	// CornerRadius is used for the rounded shape.
	CornerRadius = 20
	// BorderColor is the outline drawn around the webcam box.
	BorderColor = "#6366f1"
	BorderWidth = 4
	// BorderInset shrinks the outline so it stays inside the clip.
	BorderInset = 2
)

// kappa places cubic control points so a quarter arc approximates a circle.
const kappa = 0.5522847498307936

// AnchorToRect returns the top-left corner of a boxW×boxH box placed at
// anchor inside a canvasW×canvasH canvas. Unknown anchors yield (0, 0).
func AnchorToRect(anchor Position, boxW, boxH, canvasW, canvasH, padding float64) (x, y float64) {
	left := padding
	centerX := (canvasW - boxW) / 2
	right := canvasW - boxW - padding
	top := padding
	centerY := (canvasH - boxH) / 2
	bottom := canvasH - boxH - padding

	switch anchor {
	case TopLeft:
		return left, top
	case TopCenter:
		return centerX, top
	case TopRight:
		return right, top
	case MiddleLeft:
		return left, centerY
	case MiddleCenter:
		return centerX, centerY
	case MiddleRight:
		return right, centerY
	case BottomLeft:
		return left, bottom
	case BottomCenter:
		return centerX, bottom
	case BottomRight:
		return right, bottom
	}
	return 0, 0
}

// PathBuilder is the subset of a vector path API RoundedRect needs.
// *gg.Context satisfies it.
type PathBuilder interface {
	MoveTo(x, y float64)
	LineTo(x, y float64)
	CubicTo(c1x, c1y, c2x, c2y, x, y float64)
	ClosePath()
}

// RoundedRect appends a closed rectangle with quarter-circle corners of
// radius r. r must not exceed min(w, h)/2.
func RoundedRect(p PathBuilder, x, y, w, h, r float64) {
	k := r * kappa
	p.MoveTo(x+r, y)
	p.LineTo(x+w-r, y)
	p.CubicTo(x+w-r+k, y, x+w, y+r-k, x+w, y+r)
	p.LineTo(x+w, y+h-r)
	p.CubicTo(x+w, y+h-r+k, x+w-r+k, y+h, x+w-r, y+h)
	p.LineTo(x+r, y+h)
	p.CubicTo(x+r-k, y+h, x, y+h-r+k, x, y+h-r)
	p.LineTo(x, y+r)
	p.CubicTo(x, y+r-k, x+r-k, y, x+r, y)
	p.ClosePath()
}

// Box is the webcam region on the canvas.
type Box struct {
	X, Y float64
	W, H float64
}

// Rect rounds the box to integer pixel bounds.
func (b Box) Rect() image.Rectangle {
	x0, y0 := int(b.X+0.5), int(b.Y+0.5)
	return image.Rect(x0, y0, x0+int(b.W+0.5), y0+int(b.H+0.5))
}

// BoxSize returns the webcam box dimensions for a canvas width.
// Circles are square, the other shapes are 16:9.
func BoxSize(shape Shape, size int, canvasW float64) (w, h float64) {
	w = canvasW * float64(size) / 100
	if shape == Circle {
		return w, w
	}
	return w, w * 9 / 16
}

// Layout positions the webcam box for s on a canvasW×canvasH canvas.
func Layout(s Settings, canvasW, canvasH float64) Box {
	w, h := BoxSize(s.Shape, s.Size, canvasW)
	x, y := AnchorToRect(s.Position, w, h, canvasW, canvasH, Padding)
	return Box{X: x, Y: y, W: w, H: h}
}

// CoverRect returns the source crop that fills a boxW×boxH box while keeping
// the source aspect ratio. The crop is centered.
func CoverRect(srcW, srcH int, boxW, boxH float64) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || boxW <= 0 || boxH <= 0 {
		return image.Rect(0, 0, srcW, srcH)
	}
	srcAspect := float64(srcW) / float64(srcH)
	boxAspect := boxW / boxH

	cropW, cropH := float64(srcW), float64(srcH)
	if srcAspect > boxAspect {
		cropW = float64(srcH) * boxAspect
	} else {
		cropH = float64(srcW) / boxAspect
	}
	x0 := int((float64(srcW) - cropW) / 2)
	y0 := int((float64(srcH) - cropH) / 2)
	return image.Rect(x0, y0, x0+int(cropW+0.5), y0+int(cropH+0.5))
}
