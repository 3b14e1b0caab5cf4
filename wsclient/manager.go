package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/message"
	"github.com/c360/previewsync/metric"
)

// Status represents the transport connection state.
type Status int

// Possible connection statuses. The zero value is closed.
const (
	StatusClosed Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ConnectionState is a point-in-time snapshot of the connection model.
type ConnectionState struct {
	Status            Status
	ReconnectAttempts int
	LastError         error
}

// HealthStatus aggregates runtime health information for the manager.
type HealthStatus struct {
	Healthy    bool
	Status     Status
	LastPong   time.Time
	Uptime     time.Duration
	QueueDepth int
	ErrorCount int64
}

// EnvelopeHandler receives every inbound application envelope. Ping and
// pong envelopes are consumed by the manager and never reach the handler.
type EnvelopeHandler func(*message.Envelope)

// StatusHandler receives connection status transitions. The error is
// non-nil when the transition was caused by a failure, and carries the
// terminal ErrMaxReconnectsExceeded once the retry budget is spent.
type StatusHandler func(Status, error)

// DropHandler receives envelopes evicted from the offline queue under
// the DropOldest overflow policy.
type DropHandler func(*message.Envelope)

// Manager owns one WebSocket transport connection to the preview
// renderer. There is exactly one live transport handle per Manager;
// status transitions are driven only by transport events and explicit
// Connect/Disconnect calls.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	dialer  *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	status         Status
	attempts       int
	lastError      error
	explicitClose  bool
	closed         bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	connGen        uint64
	connectedAt    time.Time
	waiters        []chan error
	queue          *offlineQueue

	onEnvelope EnvelopeHandler
	onStatus   StatusHandler
	onDrop     DropHandler

	// writeMu serializes frame writes: gorilla connections support one
	// concurrent writer, and the queue flush holds it so no new send is
	// admitted ahead of the backlog.
	writeMu sync.Mutex

	closeOnce  sync.Once
	lastPong   atomic.Value // time.Time
	errorCount atomic.Int64
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket dialer. Useful for custom TLS or
// proxy configuration.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(m *Manager) {
		if dialer != nil {
			m.dialer = dialer
		}
	}
}

// NewManager creates a connection manager. The manager does not connect
// until Connect is called.
func NewManager(cfg Config, registry *metric.Registry, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		dialer: websocket.DefaultDialer,
		queue:  newOfflineQueue(cfg.QueueCapacity, cfg.QueueOverflow),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "wsclient", "client", cfg.Name)

	metrics, err := newMetrics(registry, cfg.Name)
	if err != nil {
		return nil, err
	}
	m.metrics = metrics

	return m, nil
}

// OnEnvelope registers the inbound envelope handler. Must be set before
// Connect.
func (m *Manager) OnEnvelope(fn EnvelopeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnvelope = fn
}

// OnStatusChange registers the status transition handler. Must be set
// before Connect.
func (m *Manager) OnStatusChange(fn StatusHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// OnQueueDrop registers the queue eviction handler. Must be set before
// Connect.
func (m *Manager) OnQueueDrop(fn DropHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDrop = fn
}

// Connect establishes the transport connection. It is idempotent: if
// already open it returns nil immediately, and if a connection attempt
// is already in progress it fails synchronously with
// ErrConnectInProgress without mutating state.
//
// When the initial dial fails, reconnection is scheduled per the backoff
// policy and Connect blocks until the manager first reaches open, fails
// terminally after exhausting the attempt budget, or ctx is done. A ctx
// expiry abandons the wait but not the background reconnection; use
// Disconnect to stop it.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrConnectionClosed, "wsclient", "Connect", "check lifecycle")
	}
	switch m.status {
	case StatusOpen:
		m.mu.Unlock()
		return nil
	case StatusConnecting, StatusClosing:
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrConnectInProgress, "wsclient", "Connect", "check status")
	}
	m.explicitClose = false
	m.status = StatusConnecting
	m.mu.Unlock()
	m.notifyStatus(StatusConnecting, nil)

	err := m.dial(ctx)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	if m.explicitClose || m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrConnectionClosed, "wsclient", "Connect", "check lifecycle")
	}
	m.status = StatusClosed
	m.lastError = err
	ch := make(chan error, 1)
	m.waiters = append(m.waiters, ch)
	terminal := m.scheduleReconnectLocked()
	m.mu.Unlock()

	if terminal != nil {
		m.notifyStatus(StatusClosed, terminal)
		return terminal
	}
	m.notifyStatus(StatusClosed, err)

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "wsclient", "Connect", "wait for connection")
	}
}

// dial performs one connection attempt, bounded by the configured dial
// timeout and ctx. On success it installs the connection, resets the
// attempt counter, flushes the offline queue FIFO, and starts the
// heartbeat and read loops.
func (m *Manager) dial(ctx context.Context) error {
	dialer := *m.dialer
	dialer.HandshakeTimeout = m.cfg.DialTimeout

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, m.cfg.URL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		m.errorCount.Add(1)
		return errors.WrapTransient(err, "wsclient", "Connect", "dial")
	}
	conn.SetReadLimit(m.cfg.ReadLimit)

	m.mu.Lock()
	if m.explicitClose || m.closed {
		// Disconnect won the race during the handshake.
		m.mu.Unlock()
		_ = conn.Close()
		return errors.WrapInvalid(errors.ErrConnectionClosed, "wsclient", "Connect", "check lifecycle")
	}
	m.conn = conn
	m.status = StatusOpen
	m.attempts = 0
	m.lastError = nil
	m.connectedAt = time.Now()
	m.connGen++
	gen := m.connGen
	stop := make(chan struct{})
	m.heartbeatStop = stop
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	m.metrics.recordConnect()
	m.logger.Info("connection open", "url", m.cfg.URL)

	m.flushQueue()

	go m.readLoop(conn, gen)
	go m.heartbeatLoop(stop)

	for _, ch := range waiters {
		ch <- nil
	}
	m.notifyStatus(StatusOpen, nil)
	return nil
}

// flushQueue drains the offline queue strictly FIFO. It holds the write
// mutex for the whole drain, so sends issued after reopen queue up
// behind the backlog rather than interleaving with it.
func (m *Manager) flushQueue() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	flushed := 0
	for {
		m.mu.Lock()
		env, ok := m.queue.pop()
		conn := m.conn
		m.mu.Unlock()
		if !ok {
			break
		}
		if conn == nil {
			m.requeueFront(env)
			return
		}
		if err := m.writeFrame(conn, env); err != nil {
			// The connection died mid-drain; the read loop will notice.
			// Put the envelope back so it leads the next flush.
			m.requeueFront(env)
			m.logger.Warn("queue flush interrupted", "flushed", flushed, "error", err)
			return
		}
		flushed++
	}

	if flushed > 0 {
		m.logger.Info("offline queue flushed", "count", flushed)
	}
	m.mu.Lock()
	depth := m.queue.len()
	m.mu.Unlock()
	m.metrics.recordQueueDepth(depth)
}

func (m *Manager) requeueFront(env *message.Envelope) {
	m.mu.Lock()
	m.queue.pushFront(env)
	m.mu.Unlock()
}

// Send transmits an envelope immediately when the connection is open,
// and otherwise buffers it in the offline queue per the overflow policy.
func (m *Manager) Send(env *message.Envelope) error {
	if env == nil {
		return errors.WrapInvalid(errors.ErrInvalidEnvelope, "wsclient", "Send", "validate envelope")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrConnectionClosed, "wsclient", "Send", "check lifecycle")
	}
	if m.status == StatusOpen {
		conn := m.conn
		m.mu.Unlock()
		m.writeMu.Lock()
		err := m.writeFrame(conn, env)
		m.writeMu.Unlock()
		return err
	}

	dropped, err := m.queue.push(env)
	depth := m.queue.len()
	m.mu.Unlock()

	if err != nil {
		return errors.WrapTransient(err, "wsclient", "Send", "enqueue")
	}
	m.metrics.recordQueued(depth)
	if dropped != nil {
		m.metrics.recordQueueDrop()
		m.logger.Warn("offline queue full, dropped oldest envelope",
			"type", dropped.Type(), "id", dropped.ID())
		m.mu.Lock()
		fn := m.onDrop
		m.mu.Unlock()
		if fn != nil {
			fn(dropped)
		}
	}
	return nil
}

// writeFrame encodes and writes one envelope. Callers must hold writeMu.
func (m *Manager) writeFrame(conn *websocket.Conn, env *message.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
		return errors.WrapTransient(err, "wsclient", "Send", "set write deadline")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.errorCount.Add(1)
		return errors.WrapTransient(err, "wsclient", "Send", "write frame")
	}
	m.metrics.recordSent(string(env.Type()))
	return nil
}

// readLoop consumes inbound frames until the connection fails or is
// torn down. Malformed frames are logged and dropped without touching
// connection state.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleConnectionLost(gen, err)
			return
		}

		env, derr := message.Decode(data)
		if derr != nil {
			m.metrics.recordProtocolError()
			m.logger.Warn("dropping malformed frame", "error", derr)
			continue
		}
		m.metrics.recordReceived(string(env.Type()))

		switch env.Type() {
		case message.TypePing:
			pong, perr := message.New(message.TypePong, nil)
			if perr == nil {
				if serr := m.Send(pong); serr != nil {
					m.logger.Warn("failed to answer ping", "error", serr)
				}
			}
		case message.TypePong:
			m.lastPong.Store(time.Now())
		default:
			m.mu.Lock()
			fn := m.onEnvelope
			m.mu.Unlock()
			if fn != nil {
				fn(env)
			}
		}
	}
}

// heartbeatLoop sends a ping envelope every heartbeat interval while the
// connection is open. Heartbeats are generated only while open, so they
// never enter the offline queue.
func (m *Manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			open := m.status == StatusOpen
			m.mu.Unlock()
			if !open {
				return
			}
			ping, err := message.New(message.TypePing, nil)
			if err != nil {
				continue
			}
			if err := m.Send(ping); err != nil {
				m.logger.Warn("heartbeat send failed", "error", err)
				continue
			}
			m.metrics.recordHeartbeat()
		}
	}
}

// handleConnectionLost reacts to an unsolicited transport failure:
// status goes closed and a fresh reconnect series starts from attempt
// zero. An explicit Disconnect reaches here too (closing the socket
// fails the pending read) but is recognized and ignored.
func (m *Manager) handleConnectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.closed || m.connGen != gen {
		// Stale loop: the connection it served is already torn down.
		m.mu.Unlock()
		return
	}
	if m.explicitClose {
		m.mu.Unlock()
		return
	}
	m.teardownConnLocked()
	m.status = StatusClosed
	m.errorCount.Add(1)
	m.lastError = errors.WrapTransient(cause, "wsclient", "readLoop", "read frame")
	// A drop of an established connection starts a fresh failure series.
	m.attempts = 0
	terminal := m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.logger.Warn("connection lost", "error", cause)
	if terminal != nil {
		m.notifyStatus(StatusClosed, terminal)
		return
	}
	m.notifyStatus(StatusClosed, cause)
}

// scheduleReconnectLocked arms the reconnect timer for the next attempt,
// or resolves the terminal state once the attempt budget is spent.
// Callers must hold mu. Returns the terminal error, if any.
func (m *Manager) scheduleReconnectLocked() error {
	if m.cfg.Backoff.Exhausted(m.attempts) {
		terminal := errors.WrapFatal(
			fmt.Errorf("%w after %d attempts: %v",
				errors.ErrMaxReconnectsExceeded, m.attempts, m.lastError),
			"wsclient", "reconnect", "retry budget")
		m.lastError = terminal
		m.resolveWaitersLocked(terminal)
		m.logger.Error("reconnect budget exhausted", "attempts", m.attempts)
		return terminal
	}

	m.attempts++
	attempt := m.attempts
	delay := m.cfg.Backoff.Delay(attempt)
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	return nil
}

// reconnect is the timer callback for one reconnect attempt.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.explicitClose || m.closed || m.status != StatusClosed {
		m.mu.Unlock()
		return
	}
	m.status = StatusConnecting
	m.reconnectTimer = nil
	m.mu.Unlock()

	m.notifyStatus(StatusConnecting, nil)
	m.metrics.recordReconnect()

	err := m.dial(context.Background())
	if err == nil {
		return
	}

	m.mu.Lock()
	if m.explicitClose || m.closed {
		m.mu.Unlock()
		return
	}
	m.status = StatusClosed
	m.lastError = err
	terminal := m.scheduleReconnectLocked()
	m.mu.Unlock()

	if terminal != nil {
		m.notifyStatus(StatusClosed, terminal)
		return
	}
	m.notifyStatus(StatusClosed, err)
}

// Disconnect closes the transport with a normal-closure frame, cancels
// any scheduled reconnect and the heartbeat, and does not auto-reconnect.
// Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	wasIdle := m.status == StatusClosed && m.reconnectTimer == nil
	m.explicitClose = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}
	m.teardownConnLocked()
	m.status = StatusClosed
	m.resolveWaitersLocked(errors.WrapInvalid(
		errors.ErrConnectionClosed, "wsclient", "Disconnect", "cancel pending connect"))
	m.mu.Unlock()

	if !wasIdle {
		m.logger.Info("disconnected")
		m.notifyStatus(StatusClosed, nil)
	}
	return nil
}

// RetryConnection fully resets the attempt counter and the terminal
// error, then runs the normal connect path. It is the only way out of
// the terminal failure state after the reconnect budget is spent.
func (m *Manager) RetryConnection(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrConnectionClosed, "wsclient", "RetryConnection", "check lifecycle")
	}
	m.attempts = 0
	m.lastError = nil
	m.mu.Unlock()

	return m.Connect(ctx)
}

// Close tears the manager down permanently. After Close the manager
// rejects Connect and Send. Idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		_ = m.Disconnect()
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	})
	return nil
}

// teardownConnLocked releases the live connection and stops the
// heartbeat. Callers must hold mu.
func (m *Manager) teardownConnLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
	m.connGen++
}

func (m *Manager) resolveWaitersLocked(err error) {
	for _, ch := range m.waiters {
		ch <- err
	}
	m.waiters = nil
}

// notifyStatus invokes the status handler outside the manager mutex so
// the handler may call back into the manager.
func (m *Manager) notifyStatus(status Status, err error) {
	m.mu.Lock()
	fn := m.onStatus
	m.mu.Unlock()
	if fn != nil {
		fn(status, err)
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// State returns a snapshot of the connection model.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ConnectionState{
		Status:            m.status,
		ReconnectAttempts: m.attempts,
		LastError:         m.lastError,
	}
}

// QueueDepth returns the number of envelopes waiting in the offline
// queue.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// Health returns aggregated runtime health for the manager. LastPong is
// informational: a missing pong does not currently force a reconnect.
func (m *Manager) Health() HealthStatus {
	m.mu.Lock()
	status := m.status
	connectedAt := m.connectedAt
	depth := m.queue.len()
	m.mu.Unlock()

	var uptime time.Duration
	if status == StatusOpen && !connectedAt.IsZero() {
		uptime = time.Since(connectedAt)
	}
	var lastPong time.Time
	if v := m.lastPong.Load(); v != nil {
		lastPong = v.(time.Time)
	}

	return HealthStatus{
		Healthy:    status == StatusOpen,
		Status:     status,
		LastPong:   lastPong,
		Uptime:     uptime,
		QueueDepth: depth,
		ErrorCount: m.errorCount.Load(),
	}
}
