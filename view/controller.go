// Package view implements the view state controller: viewport, zoom,
// pan, and fullscreen mutations expressed as actions dispatched into the
// state container. The controller never mutates state directly and is
// fully independent of connection status.
package view

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c360/previewsync/device"
	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/state"
)

// ZoomStep is the multiplicative step applied by ZoomIn and ZoomOut.
const ZoomStep = 1.2

// DefaultReflowDuration is how long the transient reflow indicator stays
// raised after a viewport change, simulating the renderer's reflow.
const DefaultReflowDuration = 600 * time.Millisecond

// Controller mutates view state in response to user intent.
type Controller struct {
	container      *state.Container
	reflowDuration time.Duration
	logger         *slog.Logger

	mu          sync.Mutex
	reflowTimer *time.Timer
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReflowDuration overrides the simulated reflow duration.
func WithReflowDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.reflowDuration = d
		}
	}
}

// NewController creates a controller bound to the given container.
func NewController(container *state.Container, opts ...Option) *Controller {
	c := &Controller{
		container:      container,
		reflowDuration: DefaultReflowDuration,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDeviceViewport replaces the device viewport and raises the
// transient reflow indicator for the configured duration. Synchronous
// from the caller's perspective; the indicator settles on a timer.
func (c *Controller) SetDeviceViewport(preset device.Preset) error {
	if err := preset.Validate(); err != nil {
		return errors.WrapInvalid(err, "view", "SetDeviceViewport", "validate preset")
	}

	if err := c.container.Dispatch(state.ViewportChanged{Preset: preset}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A rapid viewport switch restarts the reflow window.
	if c.reflowTimer != nil {
		c.reflowTimer.Stop()
	}
	c.reflowTimer = time.AfterFunc(c.reflowDuration, func() {
		if err := c.container.Dispatch(state.ReflowSettled{}); err != nil {
			c.logger.Warn("failed to settle reflow indicator", "error", err)
		}
	})
	return nil
}

// SetZoom sets the zoom level. Out-of-range values are clamped by the
// reducer, never rejected.
func (c *Controller) SetZoom(z float64) {
	_ = c.container.Dispatch(state.ZoomSet{Zoom: z})
}

// ZoomIn scales the current (already clamped) zoom by the zoom step.
func (c *Controller) ZoomIn() {
	current := c.container.Snapshot().View.Zoom
	_ = c.container.Dispatch(state.ZoomSet{Zoom: current * ZoomStep})
}

// ZoomOut scales the current (already clamped) zoom down by the zoom step.
func (c *Controller) ZoomOut() {
	current := c.container.Snapshot().View.Zoom
	_ = c.container.Dispatch(state.ZoomSet{Zoom: current / ZoomStep})
}

// ResetZoom returns zoom to 1.
func (c *Controller) ResetZoom() {
	_ = c.container.Dispatch(state.ZoomSet{Zoom: 1.0})
}

// SetPan sets the pan offset. Translation is unconstrained.
func (c *Controller) SetPan(x, y float64) {
	_ = c.container.Dispatch(state.PanSet{X: x, Y: y})
}

// ResetPan returns the pan offset to the origin.
func (c *Controller) ResetPan() {
	_ = c.container.Dispatch(state.PanReset{})
}

// FitToScreen resets zoom to 1 and pan to the origin atomically: both
// fields change in a single action, with no intermediate observable
// state.
func (c *Controller) FitToScreen() {
	_ = c.container.Dispatch(state.FitToScreen{})
}

// SetFullscreen mirrors an explicit fullscreen request into view state.
func (c *Controller) SetFullscreen(on bool) {
	_ = c.container.Dispatch(state.FullscreenChanged{Fullscreen: on})
}

// NotifyFullscreenChange mirrors an external fullscreen-change
// notification. State can therefore change without a corresponding
// SetFullscreen call; the transition is idempotent.
func (c *Controller) NotifyFullscreenChange(on bool) {
	_ = c.container.Dispatch(state.FullscreenChanged{Fullscreen: on})
}

// Viewport returns the current device viewport.
func (c *Controller) Viewport() device.Preset {
	return c.container.Snapshot().View.Viewport
}

// Zoom returns the current zoom level.
func (c *Controller) Zoom() float64 {
	return c.container.Snapshot().View.Zoom
}

// Pan returns the current pan offset.
func (c *Controller) Pan() (x, y float64) {
	p := c.container.Snapshot().View.Pan
	return p.X, p.Y
}

// Close stops the pending reflow timer, if any.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reflowTimer != nil {
		c.reflowTimer.Stop()
		c.reflowTimer = nil
	}
}
