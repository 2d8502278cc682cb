package viewer

import (
	"video-insight-client/internal/models"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/overlay"
)

// FrameRequest describes one still overlay frame.
// A zero native size leaves the player without metadata, so boxes are drawn unscaled.
type FrameRequest struct {
	Width, Height             int
	NativeWidth, NativeHeight int
	Time                      float64
}

// RenderFrame plays dets on a fresh player and canvas up to req.Time and returns the drawn surface.
func RenderFrame(r *overlay.Renderer, dets []models.Detection, req FrameRequest, m *metrics.Metrics) *overlay.ImageSurface {
	player := NewPlayer()
	canvas := NewCanvas(req.Width, req.Height)
	h := AttachWithMetrics(player, canvas, r, dets, m)
	defer h.Detach()

	if req.NativeWidth > 0 && req.NativeHeight > 0 {
		player.Load(req.NativeWidth, req.NativeHeight)
	}
	player.Seek(req.Time)
	return canvas.Image()
}

// Play steps a player through dets at fps frames per second, from zero until
// the last detection leaves the overlay window, calling emit after each frame.
// The surface passed to emit is reused between frames.
func Play(r *overlay.Renderer, dets []models.Detection, req FrameRequest, fps float64, m *metrics.Metrics, emit func(frame int, t float64, img *overlay.ImageSurface) error) error {
	if fps <= 0 {
		fps = 1
	}
	end := 0.0
	for _, d := range dets {
		end = max(end, d.Timestamp)
	}
	end += overlay.DefaultWindow

	player := NewPlayer()
	canvas := NewCanvas(req.Width, req.Height)
	h := AttachWithMetrics(player, canvas, r, dets, m)
	defer h.Detach()
	if req.NativeWidth > 0 && req.NativeHeight > 0 {
		player.Load(req.NativeWidth, req.NativeHeight)
	}

	step := 1 / fps
	for i := 0; ; i++ {
		t := float64(i) * step
		if t > end {
			return nil
		}
		player.Seek(t)
		if err := emit(i, t, canvas.Image()); err != nil {
			return err
		}
	}
}
