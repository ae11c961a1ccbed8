package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ConnManager owns the live transport connections of the messaging endpoint.
// It upgrades HTTP requests to websocket connections, registers them with the
// presence registry under the authenticated user, and fans events out to a
// user's connections.
type ConnManager struct {
	presence *Presence
	connSeq  atomic.Int64
	connWg   *sync.WaitGroup
	context  context.Context
	logger   *slog.Logger

	onUserConnected    func(string)
	onUserDisconnected func(string)

	dispatch func(context.Context, *Event) error

	upgrader        websocket.Upgrader
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func NewConnManager(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		presence:           NewPresence(),
		connWg:             wg,
		logger:             logger,
		context:            ctx,
		upgrader:           defaultUpgrader,
		WriteStreamSize:    100,
		onUserConnected:    func(string) {},
		onUserDisconnected: func(string) {},
		dispatch: func(context.Context, *Event) error {
			return nil
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetDispatcher sets the function invoked for every event read from a
// connection. It must be set before the first connection is accepted.
func (m *ConnManager) SetDispatcher(f func(context.Context, *Event) error) {
	m.dispatch = f
}

// OnUserConnected registers a callback invoked when a user's first
// connection is registered.
func (m *ConnManager) OnUserConnected(f func(string)) {
	m.onUserConnected = f
}

// OnUserDisconnected registers a callback invoked when a user's last
// connection is removed.
func (m *ConnManager) OnUserDisconnected(f func(string)) {
	m.onUserDisconnected = f
}

func (m *ConnManager) Presence() *Presence {
	return m.presence
}

func (m *ConnManager) IsUserConnected(username string) bool {
	return m.presence.IsOnline(username)
}

// Connect upgrades the request and registers the connection under username.
// Presence registration completes before any event traffic flows on the
// connection.
func (m *ConnManager) Connect(username string, w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("Upgrade: %w", err)
	}

	id := m.connSeq.Add(1)
	wsConn := &Conn{
		username:    username,
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		done:        make(chan struct{}),
		dispatch:    m.dispatch,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", fmt.Sprintf("%s:%d", username, id))),
	}
	wsConn.notifyDisconnect = func() {
		m.disconnect(wsConn)
	}

	wasOnline := m.presence.IsOnline(username)
	m.presence.Register(username, wsConn)

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	if !wasOnline {
		m.onUserConnected(username)
	}
	m.logger.Debug("connection registered",
		slog.String("username", username), slog.Int64("id", id))

	return wsConn, nil
}

func (m *ConnManager) disconnect(conn *Conn) {
	offline := m.presence.Unregister(conn.username, conn)
	conn.close()
	if offline {
		m.onUserDisconnected(conn.username)
	}
	m.logger.Debug("connection removed",
		slog.String("username", conn.username), slog.Int64("id", conn.id))
}

// SendToUsers delivers an event to every live connection of the given users.
// Users without live connections are skipped; that is not an error. A
// connection that cannot keep up with its write buffer is disconnected.
func (m *ConnManager) SendToUsers(e *Event, usernames ...string) {
	for _, username := range usernames {
		for _, conn := range m.presence.Connections(username) {
			if !conn.send(e) {
				m.logger.Warn("slow consumer, disconnecting",
					slog.String("username", username), slog.Int64("id", conn.ID()))
				m.disconnect(conn)
			}
		}
	}
}

// SendToConn delivers an event to a single connection.
func (m *ConnManager) SendToConn(e *Event, username string, id int64) {
	for _, conn := range m.presence.Connections(username) {
		if conn.ID() != id {
			continue
		}
		if !conn.send(e) {
			m.disconnect(conn)
		}
	}
}
