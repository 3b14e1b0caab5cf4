package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/previewsync/message"
)

// Server is an in-process WebSocket endpoint for exercising the
// connection manager against real transport behavior: handshakes, close
// frames, and abrupt drops.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu          sync.Mutex
	conns       map[*websocket.Conn]struct{}
	received    []*message.Envelope
	raw         [][]byte
	refuse      bool
	answerPings bool
}

// NewServer starts a test server that accepts envelope connections.
// Callers must Close it when done.
func NewServer() *Server {
	s := &Server{
		upgrader:    websocket.Upgrader{},
		conns:       make(map[*websocket.Conn]struct{}),
		answerPings: true,
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

// SetRefuseUpgrades makes the server reject (or again accept) new
// connection attempts with HTTP 503.
func (s *Server) SetRefuseUpgrades(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// SetAnswerPings controls whether inbound ping envelopes are answered
// with pongs. Enabled by default.
func (s *Server) SetAnswerPings(answer bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerPings = answer
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.raw = append(s.raw, data)
		s.mu.Unlock()

		env, err := message.Decode(data)
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, env)
		answer := s.answerPings
		s.mu.Unlock()

		if env.Type() == message.TypePing && answer {
			if pong, perr := message.New(message.TypePong, nil); perr == nil {
				if out, eerr := pong.Encode(); eerr == nil {
					_ = conn.WriteMessage(websocket.TextMessage, out)
				}
			}
		}
	}
}

// Received returns a copy of every decoded envelope received so far, in
// arrival order.
func (s *Server) Received() []*message.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*message.Envelope, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedOfType returns received envelopes filtered by type, in
// arrival order.
func (s *Server) ReceivedOfType(t message.Type) []*message.Envelope {
	var out []*message.Envelope
	for _, env := range s.Received() {
		if env.Type() == t {
			out = append(out, env)
		}
	}
	return out
}

// WaitFor blocks until at least n envelopes of type t have arrived or
// the timeout expires. Returns the matching envelopes and whether the
// count was reached.
func (s *Server) WaitFor(t message.Type, n int, timeout time.Duration) ([]*message.Envelope, bool) {
	deadline := time.Now().Add(timeout)
	for {
		got := s.ReceivedOfType(t)
		if len(got) >= n {
			return got, true
		}
		if time.Now().After(deadline) {
			return got, false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Send broadcasts an envelope to every connected client.
func (s *Server) Send(env *message.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

// SendRaw broadcasts a raw frame to every connected client. Useful for
// injecting malformed data.
func (s *Server) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// ConnCount returns the number of live client connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections abruptly closes every live client connection without
// a close handshake, simulating a mid-session network failure.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// Close shuts the server down, dropping any remaining connections.
func (s *Server) Close() {
	s.DropConnections()
	s.httpServer.Close()
}
