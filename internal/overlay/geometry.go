// Package overlay maps detection boxes from source-media pixels onto a display
// surface and draws them for the current playback time.
package overlay

// Size is a width and height in pixels.
type Size struct {
	Width  float64
	Height float64
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// BBox is [x1, y1, x2, y2] in source-media pixels.
type BBox [4]float64

// Rect is a box in surface pixels.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Width returns X2-X1.
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns Y2-Y1.
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Transform scales source-media coordinates to surface coordinates.
// Degenerate is set when the native size was unknown and identity was used.
type Transform struct {
	ScaleX     float64
	ScaleY     float64
	Degenerate bool
}

// Identity leaves coordinates unchanged.
var Identity = Transform{ScaleX: 1, ScaleY: 1}

// Recompute derives the transform for a surface showing media of the given native size.
// Before media metadata is known the native size is zero; identity is returned then.
func Recompute(surface, native Size) Transform {
	if !native.Valid() {
		return Transform{ScaleX: 1, ScaleY: 1, Degenerate: true}
	}
	return Transform{
		ScaleX: surface.Width / native.Width,
		ScaleY: surface.Height / native.Height,
	}
}

// Project maps a box onto the surface. Orientation is preserved.
func Project(b BBox, t Transform) Rect {
	return Rect{
		X1: b[0] * t.ScaleX,
		Y1: b[1] * t.ScaleY,
		X2: b[2] * t.ScaleX,
		Y2: b[3] * t.ScaleY,
	}
}
