// Package relay republishes container events onto NATS subjects so
// downstream consumers can observe preview sessions without holding a
// reference to the provider. It is entirely optional: the core runs
// without a relay, and a relay that is never started publishes nothing.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/previewsync/state"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "previewsync"

// eventBuffer bounds the in-flight events between observers and the
// publish worker. Overflow drops the event rather than stalling a
// dispatch cycle.
const eventBuffer = 64

// Publisher is the outbound messaging seam, satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is a provider-shaped event source: a named subscription seam
// over the state container.
type Source interface {
	Name() string
	Subscribe(fn state.Observer) func()
}

// event is one queued publication.
type event struct {
	subject string
	data    []byte
}

// Relay bridges container events to a Publisher. Publish failures are
// logged and counted, never surfaced to the provider.
type Relay struct {
	pub     Publisher
	prefix  string
	sources []Source
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	unsubs  []func()
	events  chan event
	quit    chan struct{}
	done    chan struct{}

	published atomic.Int64
	failures  atomic.Int64
	dropped   atomic.Int64
}

// Option is a functional option for configuring a Relay.
type Option func(*Relay)

// WithLogger sets the relay's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a relay over the given publisher and sources. Subjects
// take the form <prefix>.<source>.<kind>.
func New(pub Publisher, prefix string, sources []Source, opts ...Option) *Relay {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	r := &Relay{
		pub:     pub,
		prefix:  prefix,
		sources: sources,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "relay")
	return r
}

// NewNATS creates a relay publishing directly on a NATS connection.
func NewNATS(nc *nats.Conn, prefix string, sources []Source, opts ...Option) *Relay {
	return New(nc, prefix, sources, opts...)
}

// Start subscribes to every source and begins publishing. Idempotent
// while running. The relay stops when ctx is cancelled or Stop is
// called.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	r.events = make(chan event, eventBuffer)
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true

	for _, src := range r.sources {
		src := src
		unsub := src.Subscribe(func(s state.State, a state.Action) {
			r.observe(src.Name(), s, a)
		})
		r.unsubs = append(r.unsubs, unsub)
	}

	go r.run(ctx, r.events, r.quit, r.done)
	r.logger.Info("relay started", "prefix", r.prefix, "sources", len(r.sources))
	return nil
}

// Stop unsubscribes from every source and drains the publish worker,
// waiting at most timeout. Idempotent.
func (r *Relay) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	close(r.quit)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("relay.Stop: drain timed out after %s", timeout)
	}
}

// Published returns the number of successfully published events.
func (r *Relay) Published() int64 { return r.published.Load() }

// Failures returns the number of failed publish attempts.
func (r *Relay) Failures() int64 { return r.failures.Load() }

// Dropped returns the number of events discarded due to backpressure.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// connectionEvent is the wire form of a connection transition.
type connectionEvent struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// performanceEvent is the wire form of a performance snapshot.
type performanceEvent struct {
	RenderTimeMs   float64   `json:"renderTimeMs"`
	LoadTimeMs     float64   `json:"loadTimeMs"`
	MemoryUsage    uint64    `json:"memoryUsage"`
	BundleSize     uint64    `json:"bundleSize"`
	FPS            float64   `json:"fps"`
	ComponentCount int       `json:"componentCount"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// exportEvent is the wire form of an export job transition.
type exportEvent struct {
	Active      bool   `json:"active"`
	ExportType  string `json:"exportType,omitempty"`
	Progress    int    `json:"progress"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// observe translates one container notification into a queued
// publication. It runs inside the container's dispatch cycle, so it
// must never block: overflow drops the event.
func (r *Relay) observe(source string, s state.State, a state.Action) {
	var kind string
	var payload any

	switch a.(type) {
	case state.ConnectionChanged:
		kind = "connection"
		ev := connectionEvent{
			Status:   s.Connection.Status.String(),
			Attempts: s.Connection.ReconnectAttempts,
		}
		if s.Connection.LastError != nil {
			ev.Error = s.Connection.LastError.Error()
		}
		payload = ev

	case state.PerformanceSampled:
		kind = "performance"
		snap := s.Performance
		payload = performanceEvent{
			RenderTimeMs:   float64(snap.RenderTime) / float64(time.Millisecond),
			LoadTimeMs:     float64(snap.LoadTime) / float64(time.Millisecond),
			MemoryUsage:    snap.MemoryUsage,
			BundleSize:     snap.BundleSize,
			FPS:            snap.FPS,
			ComponentCount: snap.ComponentCount,
			LastUpdated:    snap.LastUpdated,
		}

	case state.ExportStarted, state.ExportProgressed, state.ExportSucceeded,
		state.ExportFailed, state.ExportCancelled:
		kind = "export"
		job := s.Export
		ev := exportEvent{
			Active:      job.Active,
			ExportType:  job.ExportType,
			Progress:    job.Progress,
			DownloadURL: job.DownloadURL,
		}
		if job.Err != nil {
			ev.Error = job.Err.Error()
		}
		payload = ev

	default:
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("failed to marshal relay event", "kind", kind, "error", err)
		return
	}

	select {
	case r.events <- event{subject: fmt.Sprintf("%s.%s.%s", r.prefix, source, kind), data: data}:
	default:
		r.dropped.Add(1)
	}
}

// run is the publish worker. On Stop it drains events already queued
// before exiting; ctx cancellation exits immediately.
func (r *Relay) run(ctx context.Context, events chan event, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev := <-events:
			r.publish(ev)
		case <-quit:
			for {
				select {
				case ev := <-events:
					r.publish(ev)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) publish(ev event) {
	if err := r.pub.Publish(ev.subject, ev.data); err != nil {
		r.failures.Add(1)
		r.logger.Warn("relay publish failed", "subject", ev.subject, "error", err)
		return
	}
	r.published.Add(1)
}
