package wsclient

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/message"
	"github.com/c360/previewsync/metric"
	"github.com/c360/previewsync/pkg/backoff"
	"github.com/c360/previewsync/testutil"
)

// testConfig returns a config tuned for fast tests: millisecond backoff,
// short heartbeat.
func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.URL = url
	cfg.DialTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 25 * time.Millisecond
	cfg.Backoff = backoff.Policy{BaseInterval: 5 * time.Millisecond, MaxAttempts: 3}
	return cfg
}

func newTestManager(t *testing.T, url string, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := testConfig(url)
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewManager_InvalidConfig(t *testing.T) {
	_, err := NewManager(Config{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

// Connecting to a reachable endpoint opens within Connect returning.
func TestConnect_Reachable(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StatusOpen, m.Status())

	state := m.State()
	assert.Equal(t, 0, state.ReconnectAttempts)
	assert.NoError(t, state.LastError)
}

// Connect is idempotent while open.
func TestConnect_AlreadyOpen(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StatusOpen, m.Status())
}

// A send while open transmits immediately with no queuing.
func TestSend_WhileOpen(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)
	require.NoError(t, m.Connect(context.Background()))

	env := mustEnvelope(t, "live-1")
	require.NoError(t, m.Send(env))
	assert.Equal(t, 0, m.QueueDepth())

	got, ok := srv.WaitFor(message.TypeUpdate, 1, time.Second)
	require.True(t, ok)
	assert.Equal(t, "live-1", got[0].ID())
}

// Messages sent while not open are queued and delivered FIFO on open,
// before any newly issued send.
func TestSend_QueuedUntilOpen(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)

	require.NoError(t, m.Send(mustEnvelope(t, "q-1")))
	require.NoError(t, m.Send(mustEnvelope(t, "q-2")))
	assert.Equal(t, 2, m.QueueDepth())

	require.NoError(t, m.Connect(context.Background()))

	got, ok := srv.WaitFor(message.TypeUpdate, 2, time.Second)
	require.True(t, ok)
	assert.Equal(t, "q-1", got[0].ID())
	assert.Equal(t, "q-2", got[1].ID())
	assert.Equal(t, 0, m.QueueDepth())
}

// A mid-session drop with queued updates delivers them first-enqueued
// first after reconnection.
func TestReconnect_FlushesQueueFIFO(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)
	require.NoError(t, m.Connect(context.Background()))

	srv.DropConnections()
	// Wait for the manager to notice the drop
	require.Eventually(t, func() bool {
		return m.Status() != StatusOpen
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, m.Send(mustEnvelope(t, "offline-1")))
	require.NoError(t, m.Send(mustEnvelope(t, "offline-2")))

	// Reconnect happens on its own; both updates arrive in order
	got, ok := srv.WaitFor(message.TypeUpdate, 2, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "offline-1", got[0].ID())
	assert.Equal(t, "offline-2", got[1].ID())
}

// Exhausting the backoff budget yields a terminal error, closed status
// with a non-nil last error, and no further scheduled attempts.
func TestConnect_TerminalAfterMaxAttempts(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/ws", func(cfg *Config) {
		cfg.DialTimeout = 100 * time.Millisecond
		cfg.Backoff = backoff.Policy{BaseInterval: time.Millisecond, MaxAttempts: 3}
	})

	var mu sync.Mutex
	attempts := 0
	m.OnStatusChange(func(s Status, _ error) {
		if s == StatusConnecting {
			mu.Lock()
			attempts++
			mu.Unlock()
		}
	})

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMaxReconnectsExceeded)
	assert.True(t, errors.IsFatal(err))

	state := m.State()
	assert.Equal(t, StatusClosed, state.Status)
	require.Error(t, state.LastError)
	assert.ErrorIs(t, state.LastError, errors.ErrMaxReconnectsExceeded)

	// No further attempt is ever scheduled: the connecting-transition
	// count stays at initial dial + MaxAttempts reconnects.
	mu.Lock()
	got := attempts
	mu.Unlock()
	assert.Equal(t, 1+3, got)
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, got, attempts)
}

// A second Connect while one is in progress is rejected synchronously.
func TestConnect_InProgressRejected(t *testing.T) {
	// A listener that accepts but never completes the handshake keeps the
	// first Connect pinned in the connecting state.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, aerr := ln.Accept()
			if aerr != nil {
				return
			}
			defer func() { _ = conn.Close() }()
		}
	}()

	m := newTestManager(t, "ws://"+ln.Addr().String()+"/ws", func(cfg *Config) {
		cfg.DialTimeout = 500 * time.Millisecond
	})

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		return m.Status() == StatusConnecting
	}, time.Second, time.Millisecond)

	err = m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectInProgress)

	require.NoError(t, m.Disconnect())
	require.Error(t, <-done)
}

// Disconnect cancels reconnection and does not auto-reconnect.
func TestDisconnect_NoAutoReconnect(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Disconnect())
	assert.Equal(t, StatusClosed, m.Status())

	// Stays closed: no reconnect fires
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusClosed, m.Status())
	assert.Equal(t, 0, srv.ConnCount())

	// Idempotent
	require.NoError(t, m.Disconnect())
}

// RetryConnection resets the attempt counter and is the way out of the
// terminal failure state.
func TestRetryConnection_AfterTerminalFailure(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	srv.SetRefuseUpgrades(true)

	m := newTestManager(t, srv.URL(), func(cfg *Config) {
		cfg.Backoff = backoff.Policy{BaseInterval: time.Millisecond, MaxAttempts: 2}
	})

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMaxReconnectsExceeded)

	srv.SetRefuseUpgrades(false)
	require.NoError(t, m.RetryConnection(context.Background()))
	assert.Equal(t, StatusOpen, m.Status())

	state := m.State()
	assert.Equal(t, 0, state.ReconnectAttempts)
	assert.NoError(t, state.LastError)
}

// Heartbeat pings flow while open.
func TestHeartbeat_SendsPings(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), func(cfg *Config) {
		cfg.HeartbeatInterval = 10 * time.Millisecond
	})
	require.NoError(t, m.Connect(context.Background()))

	_, ok := srv.WaitFor(message.TypePing, 2, time.Second)
	assert.True(t, ok)

	// Pongs from the server are recorded for health
	require.Eventually(t, func() bool {
		return !m.Health().LastPong.IsZero()
	}, time.Second, 5*time.Millisecond)
}

// Inbound pings are answered with pongs.
func TestInboundPing_AnsweredWithPong(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), func(cfg *Config) {
		// Quiet heartbeat so the only pong is the answer
		cfg.HeartbeatInterval = time.Hour
	})
	require.NoError(t, m.Connect(context.Background()))

	ping, err := message.New(message.TypePing, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Send(ping))

	_, ok := srv.WaitFor(message.TypePong, 1, time.Second)
	assert.True(t, ok)
}

// Malformed inbound frames are dropped without affecting the connection.
func TestMalformedFrame_DroppedConnectionLives(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)
	require.NoError(t, m.Connect(context.Background()))

	var mu sync.Mutex
	var got []*message.Envelope
	m.OnEnvelope(func(env *message.Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	})

	require.NoError(t, srv.SendRaw([]byte("not json at all")))
	require.NoError(t, srv.SendRaw([]byte(`{"type":"telemetry","version":1}`)))

	update, err := message.New(message.TypeUpdate, map[string]string{"after": "garbage"})
	require.NoError(t, err)
	require.NoError(t, srv.Send(update))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, StatusOpen, m.Status())
}

// Queue overflow under DropOldest evicts the oldest and reports it.
func TestSend_QueueOverflowDropOldest(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/ws", func(cfg *Config) {
		cfg.QueueCapacity = 2
	})

	var mu sync.Mutex
	var droppedIDs []string
	m.OnQueueDrop(func(env *message.Envelope) {
		mu.Lock()
		droppedIDs = append(droppedIDs, env.ID())
		mu.Unlock()
	})

	require.NoError(t, m.Send(mustEnvelope(t, "a")))
	require.NoError(t, m.Send(mustEnvelope(t, "b")))
	require.NoError(t, m.Send(mustEnvelope(t, "c")))

	assert.Equal(t, 2, m.QueueDepth())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, droppedIDs)
}

// Queue overflow under RejectNewest surfaces ErrQueueFull to the sender.
func TestSend_QueueOverflowRejectNewest(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/ws", func(cfg *Config) {
		cfg.QueueCapacity = 1
		cfg.QueueOverflow = RejectNewest
	})

	require.NoError(t, m.Send(mustEnvelope(t, "a")))
	err := m.Send(mustEnvelope(t, "b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
}

func TestSend_NilEnvelope(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/ws", nil)
	err := m.Send(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidEnvelope)
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)

	err = m.Send(mustEnvelope(t, "late"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestHealth(t *testing.T) {
	srv := testutil.NewServer()
	defer srv.Close()
	m := newTestManager(t, srv.URL(), nil)

	h := m.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, StatusClosed, h.Status)

	require.NoError(t, m.Connect(context.Background()))
	h = m.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, StatusOpen, h.Status)
	assert.Equal(t, 0, h.QueueDepth)
}

// Metrics registration is optional and per-provider.
func TestNewManager_WithMetricsRegistry(t *testing.T) {
	registry := metric.NewRegistry()
	cfg := testConfig("ws://127.0.0.1:1/ws")
	m, err := NewManager(cfg, registry)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	assert.NotNil(t, m.metrics)

	// A second manager with the same name collides
	_, err = NewManager(cfg, registry)
	require.Error(t, err)

	// A different name registers cleanly
	cfg2 := cfg
	cfg2.Name = "test-2"
	m2, err := NewManager(cfg2, registry)
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "open", StatusOpen.String())
	assert.Equal(t, "closing", StatusClosing.String())
	assert.Equal(t, "unknown", Status(42).String())
}
