package viewer

import (
	"sync"

	"video-insight-client/internal/overlay"
)

// Media is a playable clip: its native resolution, readiness and playback clock.
// NativeSize is zero until metadata has loaded.
type Media interface {
	NativeSize() overlay.Size
	CurrentTime() float64
	OnReady(fn func()) func()
	OnTimeUpdate(fn func(t float64)) func()
}

// Display is the drawing area laid over the media.
type Display interface {
	Surface() overlay.Surface
	OnResize(fn func(overlay.Size)) func()
}

// Player is a virtual media element driven by its owner.
type Player struct {
	mu     sync.RWMutex
	native overlay.Size
	now    float64

	ready Signal[struct{}]
	time  Signal[float64]
}

// NewPlayer creates a player whose metadata has not loaded yet.
func NewPlayer() *Player {
	return &Player{}
}

// NativeSize implements Media.
func (p *Player) NativeSize() overlay.Size {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.native
}

// CurrentTime implements Media.
func (p *Player) CurrentTime() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.now
}

// OnReady implements Media.
func (p *Player) OnReady(fn func()) func() {
	return p.ready.Subscribe(func(struct{}) { fn() })
}

// OnTimeUpdate implements Media.
func (p *Player) OnTimeUpdate(fn func(float64)) func() {
	return p.time.Subscribe(fn)
}

// Load records the native resolution and signals readiness.
func (p *Player) Load(width, height int) {
	p.mu.Lock()
	p.native = overlay.Size{Width: float64(width), Height: float64(height)}
	p.mu.Unlock()
	p.ready.Emit(struct{}{})
}

// Seek moves the playback clock and signals the time change.
func (p *Player) Seek(t float64) {
	p.mu.Lock()
	p.now = t
	p.mu.Unlock()
	p.time.Emit(t)
}

// Canvas is a Display backed by an ImageSurface.
type Canvas struct {
	surface *overlay.ImageSurface
	resize  Signal[overlay.Size]
}

// NewCanvas creates a canvas of the given pixel size.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{surface: overlay.NewImageSurface(width, height)}
}

// Surface implements Display.
func (c *Canvas) Surface() overlay.Surface {
	return c.surface
}

// Image returns the concrete surface, for encoding frames.
func (c *Canvas) Image() *overlay.ImageSurface {
	return c.surface
}

// OnResize implements Display.
func (c *Canvas) OnResize(fn func(overlay.Size)) func() {
	return c.resize.Subscribe(fn)
}

// Resize changes the canvas size and signals it.
func (c *Canvas) Resize(width, height int) {
	if c.surface.Resize(width, height) {
		c.resize.Emit(c.surface.Size())
	}
}
