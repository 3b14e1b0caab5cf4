package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/export"
	"github.com/c360/previewsync/message"
	"github.com/c360/previewsync/metric"
	"github.com/c360/previewsync/perf"
	"github.com/c360/previewsync/state"
	"github.com/c360/previewsync/view"
	"github.com/c360/previewsync/wsclient"
)

// Health aggregates the provider's moving parts into one status report.
type Health struct {
	Healthy        bool
	Connection     wsclient.HealthStatus
	ExportActive   bool
	MonitorEnabled bool
}

// Provider is the facade over one preview synchronization session: a
// managed WebSocket connection, the deterministic state container, and
// the view, performance, and export subsystems bound to it.
type Provider struct {
	name      string
	logger    *slog.Logger
	container *state.Container
	manager   *wsclient.Manager
	view      *view.Controller
	perf      *perf.Monitor
	export    *export.Orchestrator

	limiter    *rate.Limiter
	throttleMu sync.Mutex
	pending    any
	pendingSet bool
	flushTimer *time.Timer
}

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	registry     *metric.Registry
	clientConfig *wsclient.Config
	limiter      *rate.Limiter
	perfOpts     []perf.Option
	exportOpts   []export.Option
	viewOpts     []view.Option
}

// WithLogger sets the logger shared by all subsystems.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricRegistry enables Prometheus metrics for the connection
// manager and the export orchestrator.
func WithMetricRegistry(registry *metric.Registry) Option {
	return func(c *config) {
		c.registry = registry
	}
}

// WithClientConfig replaces the default connection configuration. Name
// and URL are always taken from the New arguments.
func WithClientConfig(cfg wsclient.Config) Option {
	return func(c *config) {
		c.clientConfig = &cfg
	}
}

// WithThrottle enables outbound update throttling. Updates denied by the
// limiter are coalesced, latest payload wins, and flushed when the
// limiter next permits. Disabled by default.
func WithThrottle(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithPerfOptions forwards options to the performance monitor.
func WithPerfOptions(opts ...perf.Option) Option {
	return func(c *config) {
		c.perfOpts = append(c.perfOpts, opts...)
	}
}

// WithExportOptions forwards options to the export orchestrator.
func WithExportOptions(opts ...export.Option) Option {
	return func(c *config) {
		c.exportOpts = append(c.exportOpts, opts...)
	}
}

// WithViewOptions forwards options to the view controller.
func WithViewOptions(opts ...view.Option) Option {
	return func(c *config) {
		c.viewOpts = append(c.viewOpts, opts...)
	}
}

// managerSender adapts the connection manager to the Sender seam shared
// by the performance monitor and the export orchestrator.
type managerSender struct {
	m *wsclient.Manager
}

func (s managerSender) Send(env *message.Envelope) error { return s.m.Send(env) }
func (s managerSender) Connected() bool                  { return s.m.Status() == wsclient.StatusOpen }

// New creates a provider for the given endpoint. The provider does not
// connect until Connect is called; view operations and subscriptions
// work regardless of connection status.
func New(name, url string, opts ...Option) (*Provider, error) {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	clientCfg := wsclient.DefaultConfig()
	if cfg.clientConfig != nil {
		clientCfg = *cfg.clientConfig
	}
	clientCfg.Name = name
	clientCfg.URL = url

	logger := cfg.logger.With("provider", name)
	container := state.NewContainer(state.WithLogger(logger))

	manager, err := wsclient.NewManager(clientCfg, cfg.registry, wsclient.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	sender := managerSender{m: manager}

	orchestrator, err := export.NewOrchestrator(container, sender, cfg.registry, name,
		append([]export.Option{export.WithLogger(logger)}, cfg.exportOpts...)...)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		name:      name,
		logger:    logger.With("component", "preview"),
		container: container,
		manager:   manager,
		view: view.NewController(container,
			append([]view.Option{view.WithLogger(logger)}, cfg.viewOpts...)...),
		perf: perf.NewMonitor(container, sender,
			append([]perf.Option{perf.WithLogger(logger)}, cfg.perfOpts...)...),
		export:  orchestrator,
		limiter: cfg.limiter,
	}

	manager.OnStatusChange(p.handleStatus)
	manager.OnEnvelope(p.routeEnvelope)

	return p, nil
}

// Name returns the provider's registered name.
func (p *Provider) Name() string { return p.name }

// Connect establishes the connection, blocking until open, terminal
// reconnect failure, or ctx cancellation.
func (p *Provider) Connect(ctx context.Context) error {
	return p.manager.Connect(ctx)
}

// Disconnect closes the connection without scheduling reconnection.
func (p *Provider) Disconnect() error {
	return p.manager.Disconnect()
}

// RetryConnection resets reconnect counters and dials again. This is
// the recovery path after the reconnect series is exhausted.
func (p *Provider) RetryConnection(ctx context.Context) error {
	return p.manager.RetryConnection(ctx)
}

// Close releases the provider: stops the sampler, settles view timers,
// flushes nothing, and closes the connection permanently.
func (p *Provider) Close() error {
	p.perf.Disable()
	p.view.Close()

	p.throttleMu.Lock()
	if p.flushTimer != nil {
		p.flushTimer.Stop()
		p.flushTimer = nil
	}
	p.pending = nil
	p.pendingSet = false
	p.throttleMu.Unlock()

	return p.manager.Close()
}

// View returns the view state controller.
func (p *Provider) View() *view.Controller { return p.view }

// Performance returns the performance monitor.
func (p *Provider) Performance() *perf.Monitor { return p.perf }

// SendUpdate wraps payload in an update envelope and sends it, queueing
// while offline. With throttling enabled, denied updates are coalesced
// so the latest payload is flushed when the limiter next permits;
// nothing is dropped silently.
func (p *Provider) SendUpdate(payload any) error {
	if p.limiter == nil {
		return p.sendUpdateNow(payload)
	}

	p.throttleMu.Lock()
	if p.pendingSet {
		p.pending = payload
		p.throttleMu.Unlock()
		return nil
	}
	if p.limiter.Allow() {
		p.throttleMu.Unlock()
		return p.sendUpdateNow(payload)
	}
	delay := p.limiter.Reserve().Delay()
	p.pending = payload
	p.pendingSet = true
	p.flushTimer = time.AfterFunc(delay, p.flushPending)
	p.throttleMu.Unlock()
	return nil
}

func (p *Provider) flushPending() {
	p.throttleMu.Lock()
	if !p.pendingSet {
		p.throttleMu.Unlock()
		return
	}
	payload := p.pending
	p.pending = nil
	p.pendingSet = false
	p.flushTimer = nil
	p.throttleMu.Unlock()

	if err := p.sendUpdateNow(payload); err != nil {
		p.logger.Warn("failed to flush coalesced update", "error", err)
	}
}

func (p *Provider) sendUpdateNow(payload any) error {
	env, err := message.New(message.TypeUpdate, payload)
	if err != nil {
		return errors.WrapInvalid(err, "preview", "SendUpdate", "encode payload")
	}
	return p.manager.Send(env)
}

// ExportPortfolio drives one export job to completion. See
// export.Orchestrator for semantics.
func (p *Provider) ExportPortfolio(ctx context.Context, opts export.Options) (*export.Result, error) {
	return p.export.ExportPortfolio(ctx, opts)
}

// CancelExport cancels the active export job, if any.
func (p *Provider) CancelExport() error {
	return p.export.CancelExport()
}

// State returns the current composite state snapshot.
func (p *Provider) State() state.State {
	return p.container.Snapshot()
}

// Subscribe registers a raw observer on the underlying container.
func (p *Provider) Subscribe(fn state.Observer) func() {
	return p.container.Subscribe(fn)
}

// OnUpdate registers a handler for inbound update payloads. Handlers
// run in registration order. Returns an unsubscribe func.
func (p *Provider) OnUpdate(fn func(json.RawMessage)) func() {
	return p.container.Subscribe(func(_ state.State, a state.Action) {
		if act, ok := a.(state.RemoteUpdateReceived); ok {
			fn(act.Payload)
		}
	})
}

// remoteErrorPayload is the wire form of an inbound error envelope.
type remoteErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// OnError registers a handler for inbound error envelopes. A remote
// error never affects the connection; it only flows to handlers.
func (p *Provider) OnError(fn func(error)) func() {
	return p.container.Subscribe(func(_ state.State, a state.Action) {
		act, ok := a.(state.RemoteErrorReceived)
		if !ok {
			return
		}
		var payload remoteErrorPayload
		if err := json.Unmarshal(act.Payload, &payload); err != nil || payload.Message == "" {
			fn(fmt.Errorf("remote error: %s", string(act.Payload)))
			return
		}
		if payload.Code != "" {
			fn(fmt.Errorf("remote error [%s]: %s", payload.Code, payload.Message))
			return
		}
		fn(fmt.Errorf("remote error: %s", payload.Message))
	})
}

// OnPerformance registers a handler invoked on every performance
// snapshot replacement, local or remote.
func (p *Provider) OnPerformance(fn func(state.PerformanceSnapshot)) func() {
	return p.container.Subscribe(func(s state.State, a state.Action) {
		if _, ok := a.(state.PerformanceSampled); ok {
			fn(s.Performance)
		}
	})
}

// OnExport registers a handler invoked on every export job transition.
func (p *Provider) OnExport(fn func(state.ExportJob)) func() {
	return p.container.Subscribe(func(s state.State, a state.Action) {
		switch a.(type) {
		case state.ExportStarted, state.ExportProgressed, state.ExportSucceeded,
			state.ExportFailed, state.ExportCancelled:
			fn(s.Export)
		}
	})
}

// Health aggregates connection, export, and sampler status.
func (p *Provider) Health() Health {
	conn := p.manager.Health()
	return Health{
		Healthy:        conn.Healthy,
		Connection:     conn,
		ExportActive:   p.export.Active(),
		MonitorEnabled: p.perf.Enabled(),
	}
}

// handleStatus mirrors transport transitions into the container.
func (p *Provider) handleStatus(status wsclient.Status, err error) {
	connState := p.manager.State()
	action := state.ConnectionChanged{
		Status:   mapStatus(status),
		Attempts: connState.ReconnectAttempts,
		Err:      err,
	}
	if derr := p.container.Dispatch(action); derr != nil {
		p.logger.Warn("failed to record connection transition", "error", derr)
	}
}

func mapStatus(s wsclient.Status) state.ConnectionStatus {
	switch s {
	case wsclient.StatusConnecting:
		return state.StatusConnecting
	case wsclient.StatusOpen:
		return state.StatusOpen
	case wsclient.StatusClosing:
		return state.StatusClosing
	default:
		return state.StatusClosed
	}
}

// perfPayload mirrors the performance envelope wire form.
type perfPayload struct {
	RenderTimeMs   float64   `json:"renderTimeMs"`
	LoadTimeMs     float64   `json:"loadTimeMs"`
	MemoryUsage    uint64    `json:"memoryUsage"`
	BundleSize     uint64    `json:"bundleSize"`
	FPS            float64   `json:"fps"`
	ComponentCount int       `json:"componentCount"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// exportEventPayload is the wire form of an inbound export envelope.
type exportEventPayload struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// routeEnvelope translates inbound envelopes into actions. Malformed
// payloads are logged and dropped; routing never destabilizes the
// connection.
func (p *Provider) routeEnvelope(env *message.Envelope) {
	switch env.Type() {
	case message.TypeUpdate:
		p.dispatch(state.RemoteUpdateReceived{Payload: env.Payload()})

	case message.TypeError:
		p.dispatch(state.RemoteErrorReceived{Payload: env.Payload()})

	case message.TypePerformance:
		var payload perfPayload
		if err := env.DecodePayload(&payload); err != nil {
			p.logger.Warn("malformed performance payload dropped", "error", err)
			return
		}
		p.dispatch(state.PerformanceSampled{Snapshot: state.PerformanceSnapshot{
			RenderTime:     time.Duration(payload.RenderTimeMs * float64(time.Millisecond)),
			LoadTime:       time.Duration(payload.LoadTimeMs * float64(time.Millisecond)),
			MemoryUsage:    payload.MemoryUsage,
			BundleSize:     payload.BundleSize,
			FPS:            payload.FPS,
			ComponentCount: payload.ComponentCount,
			LastUpdated:    payload.LastUpdated,
		}})

	case message.TypeExport:
		var payload exportEventPayload
		if err := env.DecodePayload(&payload); err != nil {
			p.logger.Warn("malformed export payload dropped", "error", err)
			return
		}
		p.routeExportEvent(payload)

	default:
		// ping/pong are consumed inside the connection manager; anything
		// else was already rejected by envelope decoding.
		p.logger.Warn("unhandled envelope type dropped", "type", env.Type())
	}
}

// routeExportEvent folds a remote export event into the job. Remote
// progress obeys the same monotonic rule as local progress via the
// reducer.
func (p *Provider) routeExportEvent(payload exportEventPayload) {
	switch payload.Status {
	case "progress":
		p.dispatch(state.ExportProgressed{Progress: payload.Progress})
	case "complete":
		p.dispatch(state.ExportSucceeded{DownloadURL: payload.DownloadURL})
	case "failed":
		p.dispatch(state.ExportFailed{Err: fmt.Errorf("remote export failed: %s", payload.Error)})
	case "cancelled":
		p.dispatch(state.ExportCancelled{})
	default:
		p.logger.Warn("unknown export event dropped", "status", payload.Status)
	}
}

func (p *Provider) dispatch(a state.Action) {
	if err := p.container.Dispatch(a); err != nil {
		p.logger.Warn("failed to dispatch inbound action", "error", err)
	}
}
