package overlay

import (
	"image/color"
	"math"
	"time"

	"video-insight-client/internal/models"
	"video-insight-client/internal/observability/metrics"
)

// DefaultWindow is the half-width, in seconds, of the time window a detection is shown in.
const DefaultWindow = 0.5

// Style holds the drawing constants.
type Style struct {
	Window      float64
	LineWidth   float64
	LabelHeight float64
	Padding     float64
	// Baselines of the label text, relative to the box top, for labels above and inside the box.
	AboveBaseline  float64
	InsideBaseline float64
}

// DefaultStyle matches the in-page overlay.
func DefaultStyle() Style {
	return Style{
		Window:         DefaultWindow,
		LineWidth:      2,
		LabelHeight:    20,
		Padding:        4,
		AboveBaseline:  -6,
		InsideBaseline: 14,
	}
}

var (
	labelBackground = color.NRGBA{A: uint8(0.7*255 + 0.5)}
	labelText       = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// boxColor is green with the detection confidence as alpha.
func boxColor(confidence float64) color.NRGBA {
	a := math.Max(0, math.Min(1, confidence))
	return color.NRGBA{G: 255, A: uint8(a*255 + 0.5)}
}

// Select returns the detections within DefaultWindow of now. The boundary is excluded.
func Select(dets []models.Detection, now float64) []models.Detection {
	var out []models.Detection
	for _, d := range dets {
		if visible(d, now, DefaultWindow) {
			out = append(out, d)
		}
	}
	return out
}

func visible(d models.Detection, now, window float64) bool {
	return math.Abs(d.Timestamp-now) < window
}

// Renderer draws detection overlays onto a Surface.
type Renderer struct {
	style   Style
	metrics *metrics.Metrics
}

// NewRenderer creates a renderer. A nil metrics set disables instrumentation.
func NewRenderer(style Style, m *metrics.Metrics) *Renderer {
	return &Renderer{style: style, metrics: m}
}

// Render clears s and draws every detection visible at now. It returns the
// number of boxes drawn. Detections whose bbox is not four numbers are skipped.
func (r *Renderer) Render(s Surface, t Transform, dets []models.Detection, now float64) int {
	start := time.Now()
	s.Clear()

	drawn := 0
	for _, d := range dets {
		if !visible(d, now, r.style.Window) {
			continue
		}
		box, ok := d.Box()
		if !ok {
			continue
		}
		r.draw(s, Project(BBox(box), t), d)
		drawn++
	}

	if r.metrics != nil {
		r.metrics.RecordRender(drawn, time.Since(start).Seconds())
	}
	return drawn
}

func (r *Renderer) draw(s Surface, rect Rect, d models.Detection) {
	st := r.style
	s.StrokeRect(rect, boxColor(d.Confidence), st.LineWidth)

	label := d.Label()
	bg := Rect{
		X1: rect.X1,
		X2: rect.X1 + s.MeasureText(label) + 2*st.Padding,
	}
	baseline := rect.Y1 + st.InsideBaseline
	if rect.Y1 > st.LabelHeight {
		bg.Y1 = rect.Y1 - st.LabelHeight
		baseline = rect.Y1 + st.AboveBaseline
	} else {
		bg.Y1 = rect.Y1
	}
	bg.Y2 = bg.Y1 + st.LabelHeight

	s.FillRect(bg, labelBackground)
	s.DrawText(label, rect.X1+st.Padding, baseline, labelText)
}
