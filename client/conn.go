// Package client is the Go client library for the courier messaging
// service: a connection manager for the realtime endpoint, a REST client
// for historical fetches, and a per-conversation chat state that merges
// the two into one consistent view.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/putto11262002/courier/core"
)

// ErrDisconnected is returned by Send while the transport is down.
// Outgoing sends fail fast rather than queue: message loss during
// disconnection is visible to the caller, never hidden.
var ErrDisconnected = errors.New("transport disconnected")

// ConnManager maintains one live connection to the messaging endpoint,
// transparently reconnecting with exponential backoff when the transport
// drops. It is an explicitly constructed, owned value: create it on
// session start, Close it on logout.
type ConnManager struct {
	endpoint string
	token    string
	username string
	dialer   *websocket.Dialer
	logger   *slog.Logger

	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected atomic.Bool

	subs   map[string]map[int64]func(*core.Event)
	subSeq int64
	subMu  sync.RWMutex

	onConnect   []connectHook
	hookSeq     int64
	onConnectMu sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ConnOption func(*ConnManager)

func WithConnLogger(logger *slog.Logger) ConnOption {
	return func(m *ConnManager) {
		m.logger = logger
	}
}

func WithDialer(dialer *websocket.Dialer) ConnOption {
	return func(m *ConnManager) {
		m.dialer = dialer
	}
}

// NewConnManager creates a connection manager for the given websocket
// endpoint. The session token identifies the participant; username is the
// identity registered with the server on every (re)connect.
func NewConnManager(endpoint, token, username string, opts ...ConnOption) *ConnManager {
	m := &ConnManager{
		endpoint: endpoint,
		token:    token,
		username: username,
		dialer:   websocket.DefaultDialer,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		subs:     make(map[string]map[int64]func(*core.Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts the connection loop. It does not block waiting for the
// connection to be established; completion is observed via OnConnect.
func (m *ConnManager) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

// Close tears the connection down and stops reconnecting.
func (m *ConnManager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.writeMu.Lock()
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		m.conn.Close()
	}
	m.writeMu.Unlock()
	m.wg.Wait()
}

// IsConnected reports whether the transport is currently live.
func (m *ConnManager) IsConnected() bool {
	return m.connected.Load()
}

type connectHook struct {
	id int64
	f  func()
}

// OnConnect registers a callback invoked after every successful connection,
// including reconnects, once presence registration has been sent. The
// returned subscription releases the callback; holders must cancel it when
// their view goes away, otherwise the callback outlives them.
func (m *ConnManager) OnConnect(f func()) *Subscription {
	m.onConnectMu.Lock()
	m.hookSeq++
	id := m.hookSeq
	m.onConnect = append(m.onConnect, connectHook{id: id, f: f})
	m.onConnectMu.Unlock()

	return &Subscription{cancel: func() {
		m.onConnectMu.Lock()
		defer m.onConnectMu.Unlock()
		m.onConnect = slices.DeleteFunc(m.onConnect, func(h connectHook) bool {
			return h.id == id
		})
	}}
}

// Subscription is a handle on a registered event listener. Cancel releases
// it deterministically, so listeners do not leak across reconnects or view
// teardowns.
type Subscription struct {
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Subscribe registers a handler for an event type. Handlers for the same
// connection are invoked sequentially, in event arrival order.
func (m *ConnManager) Subscribe(eventType string, f func(*core.Event)) *Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subSeq++
	id := m.subSeq
	if m.subs[eventType] == nil {
		m.subs[eventType] = make(map[int64]func(*core.Event))
	}
	m.subs[eventType][id] = f

	return &Subscription{cancel: func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs[eventType], id)
	}}
}

// Send delivers an event to the server. It fails immediately with
// ErrDisconnected while the transport is down.
func (m *ConnManager) Send(e *core.Event) error {
	if !m.connected.Load() {
		return ErrDisconnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.conn == nil {
		return ErrDisconnected
	}
	if err := m.conn.WriteJSON(e); err != nil {
		return fmt.Errorf("WriteJSON: %w", err)
	}
	return nil
}

func (m *ConnManager) run(ctx context.Context) {
	for {
		conn, err := m.connectOnce(ctx)
		if err != nil {
			return
		}
		// connection established; read until it drops
		m.readLoop(conn)
		m.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		m.logger.Debug("connection lost, reconnecting")
	}
}

// connectOnce dials the endpoint, retrying with exponential backoff until
// the context is cancelled. On success it registers presence before any
// other traffic and fires the connect callbacks.
func (m *ConnManager) connectOnce(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		c, _, err := m.dialer.DialContext(ctx, m.endpoint+"?token="+m.token, http.Header{})
		if err != nil {
			m.logger.Debug(fmt.Sprintf("dial: %v", err))
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}

	m.writeMu.Lock()
	m.conn = conn
	m.writeMu.Unlock()

	// Close may have run between the dial succeeding and the conn being
	// stored; it would then have closed the previous conn and nothing
	// would ever unblock the read loop on this one.
	if ctx.Err() != nil {
		conn.Close()
		return nil, ctx.Err()
	}

	m.connected.Store(true)

	join, err := core.NewEvent(core.JoinEvent, map[string]string{"username": m.username})
	if err == nil {
		if err := m.Send(join); err != nil {
			m.logger.Error(fmt.Sprintf("join: %v", err))
		}
	}

	m.onConnectMu.RLock()
	hooks := slices.Clone(m.onConnect)
	m.onConnectMu.RUnlock()
	for _, h := range hooks {
		h.f()
	}

	return conn, nil
}

func (m *ConnManager) readLoop(conn *websocket.Conn) {
	for {
		var event core.Event
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Debug(fmt.Sprintf("expected close: %v", err))
			}
			return
		}
		m.dispatch(&event)
	}
}

func (m *ConnManager) dispatch(e *core.Event) {
	m.subMu.RLock()
	handlers := make([]func(*core.Event), 0, len(m.subs[e.Type]))
	for _, f := range m.subs[e.Type] {
		handlers = append(handlers, f)
	}
	m.subMu.RUnlock()
	for _, f := range handlers {
		f(e)
	}
}
