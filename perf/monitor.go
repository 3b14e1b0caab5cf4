// Package perf implements the performance monitor: a fixed-interval
// sampler that assembles a PerformanceSnapshot from a set of probes,
// dispatches it into the state container, and forwards it over the wire
// while the connection is open.
//
// Enabling and disabling the sampler is fully independent of the
// connection lifecycle: samples stop flowing over the wire when
// disconnected, but local collection continues.
package perf

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/previewsync/message"
	"github.com/c360/previewsync/state"
)

// DefaultInterval is the default sampling interval.
const DefaultInterval = time.Second

// Sender is the outbound wire seam. The monitor forwards snapshots only
// while Connected reports true; it never queues telemetry for later.
type Sender interface {
	Send(*message.Envelope) error
	Connected() bool
}

// Probes supplies the individual measurements of one sampling tick.
// Probes run concurrently; a failing probe contributes its zero value
// and is logged, it does not abort the tick. Nil probe funcs fall back
// to built-in simulation defaults.
type Probes struct {
	RenderTime     func(context.Context) (time.Duration, error)
	LoadTime       func(context.Context) (time.Duration, error)
	FPS            func(context.Context) (float64, error)
	ComponentCount func(context.Context) (int, error)
	BundleSize     func(context.Context) (uint64, error)
}

// snapshotPayload is the wire form of a performance envelope.
type snapshotPayload struct {
	RenderTimeMs   float64   `json:"renderTimeMs"`
	LoadTimeMs     float64   `json:"loadTimeMs"`
	MemoryUsage    uint64    `json:"memoryUsage"`
	BundleSize     uint64    `json:"bundleSize"`
	FPS            float64   `json:"fps"`
	ComponentCount int       `json:"componentCount"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Monitor periodically produces a PerformanceSnapshot while enabled.
type Monitor struct {
	container *state.Container
	sender    Sender
	probes    Probes
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	enabled bool
	stop    chan struct{}
	done    chan struct{}
}

// Option is a functional option for configuring the Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithInterval overrides the sampling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbes installs custom probes. Unset fields keep their simulation
// defaults.
func WithProbes(p Probes) Option {
	return func(m *Monitor) {
		if p.RenderTime != nil {
			m.probes.RenderTime = p.RenderTime
		}
		if p.LoadTime != nil {
			m.probes.LoadTime = p.LoadTime
		}
		if p.FPS != nil {
			m.probes.FPS = p.FPS
		}
		if p.ComponentCount != nil {
			m.probes.ComponentCount = p.ComponentCount
		}
		if p.BundleSize != nil {
			m.probes.BundleSize = p.BundleSize
		}
	}
}

// NewMonitor creates a monitor bound to the container and sender. The
// sampler does not run until Enable is called.
func NewMonitor(container *state.Container, sender Sender, opts ...Option) *Monitor {
	m := &Monitor{
		container: container,
		sender:    sender,
		probes:    defaultProbes(),
		interval:  DefaultInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "perf")
	return m
}

// Enable starts the fixed-interval sampler. Idempotent.
func (m *Monitor) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return
	}
	m.enabled = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
	m.logger.Info("performance sampling enabled", "interval", m.interval)
}

// Disable stops the sampler and waits for the in-flight tick, if any,
// to finish. Idempotent.
func (m *Monitor) Disable() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	close(stop)
	<-done
	m.logger.Info("performance sampling disabled")
}

// Enabled reports whether the sampler is running.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample runs all probes concurrently, assembles the snapshot, replaces
// local state wholesale, and forwards the snapshot over the wire when
// connected.
func (m *Monitor) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	var snap state.PerformanceSnapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := m.probes.RenderTime(gctx)
		if err != nil {
			m.logger.Warn("render time probe failed", "error", err)
			return nil
		}
		snap.RenderTime = v
		return nil
	})
	g.Go(func() error {
		v, err := m.probes.LoadTime(gctx)
		if err != nil {
			m.logger.Warn("load time probe failed", "error", err)
			return nil
		}
		snap.LoadTime = v
		return nil
	})
	g.Go(func() error {
		v, err := m.probes.FPS(gctx)
		if err != nil {
			m.logger.Warn("fps probe failed", "error", err)
			return nil
		}
		snap.FPS = v
		return nil
	})
	g.Go(func() error {
		v, err := m.probes.ComponentCount(gctx)
		if err != nil {
			m.logger.Warn("component count probe failed", "error", err)
			return nil
		}
		snap.ComponentCount = v
		return nil
	})
	g.Go(func() error {
		v, err := m.probes.BundleSize(gctx)
		if err != nil {
			m.logger.Warn("bundle size probe failed", "error", err)
			return nil
		}
		snap.BundleSize = v
		return nil
	})
	g.Go(func() error {
		snap.MemoryUsage = memoryUsage()
		return nil
	})

	// Probes never propagate errors; Wait only synchronizes the group.
	_ = g.Wait()
	snap.LastUpdated = time.Now()

	if err := m.container.Dispatch(state.PerformanceSampled{Snapshot: snap}); err != nil {
		m.logger.Warn("failed to dispatch performance sample", "error", err)
		return
	}

	if m.sender == nil || !m.sender.Connected() {
		return
	}
	env, err := message.New(message.TypePerformance, snapshotPayload{
		RenderTimeMs:   float64(snap.RenderTime) / float64(time.Millisecond),
		LoadTimeMs:     float64(snap.LoadTime) / float64(time.Millisecond),
		MemoryUsage:    snap.MemoryUsage,
		BundleSize:     snap.BundleSize,
		FPS:            snap.FPS,
		ComponentCount: snap.ComponentCount,
		LastUpdated:    snap.LastUpdated,
	})
	if err != nil {
		m.logger.Warn("failed to build performance envelope", "error", err)
		return
	}
	if err := m.sender.Send(env); err != nil {
		m.logger.Warn("failed to forward performance sample", "error", err)
	}
}

// memoryUsage reads the current heap allocation.
func memoryUsage() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
