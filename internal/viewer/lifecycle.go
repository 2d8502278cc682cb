// Package viewer keeps a detection overlay in sync with a playing clip.
package viewer

import (
	"sync"

	"github.com/rs/zerolog"

	"video-insight-client/internal/models"
	"video-insight-client/internal/observability/logging"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/overlay"
)

// Handle is one attachment of an overlay to a media element.
// It must be detached when the clip is replaced or removed.
type Handle struct {
	mu        sync.Mutex
	media     Media
	display   Display
	renderer  *overlay.Renderer
	dets      []models.Detection
	transform overlay.Transform
	now       float64
	drawn     int
	detached  bool
	unsubs    []func()

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Attach draws dets over media and keeps the overlay current. It subscribes,
// in order, to display resize, media ready and media time updates.
func Attach(media Media, display Display, r *overlay.Renderer, dets []models.Detection) *Handle {
	return AttachWithMetrics(media, display, r, dets, nil)
}

// AttachWithMetrics is Attach with geometry fallbacks counted in m.
func AttachWithMetrics(media Media, display Display, r *overlay.Renderer, dets []models.Detection, m *metrics.Metrics) *Handle {
	h := &Handle{
		media:    media,
		display:  display,
		renderer: r,
		dets:     dets,
		now:      media.CurrentTime(),
		metrics:  m,
		logger:   logging.WithComponent("viewer"),
	}

	h.mu.Lock()
	h.recompute()
	h.render()
	h.mu.Unlock()

	h.unsubs = append(h.unsubs,
		display.OnResize(func(overlay.Size) { h.refresh() }),
		media.OnReady(h.refresh),
		media.OnTimeUpdate(h.advance),
	)
	return h
}

// Detach removes every subscription in reverse order. No callback runs after
// Detach returns. Calling it again does nothing.
func (h *Handle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return
	}
	h.detached = true
	for i := len(h.unsubs) - 1; i >= 0; i-- {
		h.unsubs[i]()
	}
	h.unsubs = nil
}

// Detached reports whether Detach has been called.
func (h *Handle) Detached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

// SetDetections replaces the drawn set and redraws at the last known time.
func (h *Handle) SetDetections(dets []models.Detection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return
	}
	h.dets = dets
	h.render()
}

// Transform returns the current geometry.
func (h *Handle) Transform() overlay.Transform {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transform
}

// Drawn returns the number of boxes in the last frame.
func (h *Handle) Drawn() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drawn
}

func (h *Handle) refresh() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return
	}
	h.recompute()
	h.render()
}

func (h *Handle) advance(t float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return
	}
	h.now = t
	h.render()
}

func (h *Handle) recompute() {
	surface := h.display.Surface().Size()
	h.transform = overlay.Recompute(surface, h.media.NativeSize())
	if h.transform.Degenerate {
		h.logger.Debug().
			Float64("surfaceWidth", surface.Width).
			Float64("surfaceHeight", surface.Height).
			Msg("Native size unknown, using identity transform")
		if h.metrics != nil {
			h.metrics.RecordGeometryFallback()
		}
	}
}

func (h *Handle) render() {
	h.drawn = h.renderer.Render(h.display.Surface(), h.transform, h.dets, h.now)
}
