package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/courier/core"
	"github.com/stretchr/testify/require"
)

var baseTimeout = 2 * time.Second

// testServer fakes the courier backend: a websocket endpoint that records
// events sent by the client and can push events back, plus the REST routes
// the chat state fetches history from.
type testServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received chan *core.Event

	history      History
	historyCalls int
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{
		t:        t,
		received: make(chan *core.Event, 100),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/chats/", s.handleHistory)
	s.server = httptest.NewServer(mux)
	return s
}

func (s *testServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for {
		var e core.Event
		if err := conn.ReadJSON(&e); err != nil {
			return
		}
		s.received <- &e
	}
}

func (s *testServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.historyCalls++
	history := s.history
	s.mu.Unlock()
	json.NewEncoder(w).Encode(history)
}

func (s *testServer) setHistory(h History) {
	s.mu.Lock()
	s.history = h
	s.mu.Unlock()
}

func (s *testServer) historyFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyCalls
}

// push sends an event to the currently connected client.
func (s *testServer) push(eventType string, payload any) {
	e, err := core.NewEvent(eventType, payload)
	require.Nil(s.t, err)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(s.t, conn, "no client connected")
	require.Nil(s.t, conn.WriteJSON(e))
}

// dropConn closes the server side of the websocket, simulating a network
// failure.
func (s *testServer) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *testServer) close() {
	s.dropConn()
	s.server.Close()
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.server.URL, "http", "ws", 1) + "/ws"
}

func (s *testServer) baseURL() string {
	return s.server.URL
}

// waitForEvent blocks until the server receives an event of the given type.
func (s *testServer) waitForEvent(eventType string) *core.Event {
	deadline := time.After(baseTimeout)
	for {
		select {
		case e := <-s.received:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			s.t.Fatalf("timeout waiting for %q event", eventType)
			return nil
		}
	}
}

// expectNoEvent fails the test if the server receives an event of the given
// type within the window. Other event types are drained and ignored.
func (s *testServer) expectNoEvent(eventType string, window time.Duration) {
	deadline := time.After(window)
	for {
		select {
		case e := <-s.received:
			if e.Type == eventType {
				s.t.Fatalf("unexpected %q event", eventType)
			}
		case <-deadline:
			return
		}
	}
}

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}

// connectedManager returns a ConnManager that is connected to the server,
// waiting for the initial join to land so presence is established.
func connectedManager(t *testing.T, s *testServer, username string) *ConnManager {
	m := NewConnManager(s.wsURL(), "test-token", username)
	connected := make(chan struct{}, 10)
	m.OnConnect(func() { connected <- struct{}{} })
	ctx, _ := testContext(t)
	m.Connect(ctx)
	select {
	case <-connected:
	case <-time.After(baseTimeout):
		t.Fatal("timeout waiting for connection")
	}
	s.waitForEvent(core.JoinEvent)
	return m
}
