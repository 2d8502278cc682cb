package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/chai2010/webp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Surface is a 2D drawing target the size of the displayed media.
type Surface interface {
	Size() Size
	Clear()
	StrokeRect(r Rect, c color.Color, width float64)
	FillRect(r Rect, c color.Color)
	// DrawText draws text with its baseline starting at (x, y).
	DrawText(text string, x, y float64, c color.Color)
	MeasureText(text string) float64
}

// ImageSurface is a Surface backed by an in-memory RGBA image.
type ImageSurface struct {
	img  *image.RGBA
	face font.Face
}

// NewImageSurface allocates a transparent surface of the given pixel size.
func NewImageSurface(width, height int) *ImageSurface {
	return &ImageSurface{
		img:  image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0))),
		face: basicfont.Face7x13,
	}
}

// Size implements Surface.
func (s *ImageSurface) Size() Size {
	b := s.img.Bounds()
	return Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// Resize reallocates the backing image when the size changes. Contents are discarded.
func (s *ImageSurface) Resize(width, height int) bool {
	b := s.img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return false
	}
	s.img = image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
	return true
}

// Image returns the backing image.
func (s *ImageSurface) Image() *image.RGBA {
	return s.img
}

// Clear implements Surface.
func (s *ImageSurface) Clear() {
	clear(s.img.Pix)
}

// FillRect implements Surface. The color is composited over existing pixels.
func (s *ImageSurface) FillRect(r Rect, c color.Color) {
	rect := image.Rect(round(r.X1), round(r.Y1), round(r.X2), round(r.Y2)).Canon()
	draw.Draw(s.img, rect.Intersect(s.img.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// StrokeRect implements Surface. The stroke is centred on the rectangle edges.
func (s *ImageSurface) StrokeRect(r Rect, c color.Color, width float64) {
	if width <= 0 {
		return
	}
	h := width / 2
	x1, x2 := math.Min(r.X1, r.X2), math.Max(r.X1, r.X2)
	y1, y2 := math.Min(r.Y1, r.Y2), math.Max(r.Y1, r.Y2)

	s.FillRect(Rect{X1: x1 - h, Y1: y1 - h, X2: x2 + h, Y2: y1 + h}, c)
	s.FillRect(Rect{X1: x1 - h, Y1: y2 - h, X2: x2 + h, Y2: y2 + h}, c)
	s.FillRect(Rect{X1: x1 - h, Y1: y1 + h, X2: x1 + h, Y2: y2 - h}, c)
	s.FillRect(Rect{X1: x2 - h, Y1: y1 + h, X2: x2 + h, Y2: y2 - h}, c)
}

// DrawText implements Surface.
func (s *ImageSurface) DrawText(text string, x, y float64, c color.Color) {
	d := font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: s.face,
		Dot:  fixed.P(round(x), round(y)),
	}
	d.DrawString(text)
}

// MeasureText implements Surface.
func (s *ImageSurface) MeasureText(text string) float64 {
	return float64(font.MeasureString(s.face, text).Ceil())
}

// EncodePNG writes the current frame as PNG.
func (s *ImageSurface) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, s.img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// EncodeWebP writes the current frame as lossless WebP.
func (s *ImageSurface) EncodeWebP(w io.Writer) error {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, s.img, &webp.Options{Lossless: true}); err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Frame formats accepted by Encode.
const (
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// ErrUnknownFormat is returned by Encode for formats other than png and webp.
var ErrUnknownFormat = errors.New("unknown frame format")

// Encode writes the current frame in format.
func (s *ImageSurface) Encode(w io.Writer, format string) error {
	switch format {
	case FormatPNG, "":
		return s.EncodePNG(w)
	case FormatWebP:
		return s.EncodeWebP(w)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ContentType returns the MIME type of a frame format.
func ContentType(format string) string {
	if format == FormatWebP {
		return "image/webp"
	}
	return "image/png"
}

func round(v float64) int {
	return int(math.Round(v))
}
