package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Conn is one live transport connection bound to a user identity.
type Conn struct {
	conn             *websocket.Conn
	context          context.Context
	username         string
	id               int64
	writeStream      chan *Event
	done             chan struct{}
	closeOnce        sync.Once
	dispatch         func(context.Context, *Event) error
	notifyDisconnect func()
	ticker           *time.Ticker
	logger           *slog.Logger
}

// ID is the ephemeral connection identity, unique per manager.
func (c *Conn) ID() int64 {
	return c.id
}

// Username is the stable user identity the connection is registered under.
func (c *Conn) Username() string {
	return c.username
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// send queues an event for delivery on this connection. It reports false
// when the connection's write buffer is full, in which case the connection
// is considered too slow and should be disconnected. Sending to a closed
// connection drops the event silently.
func (c *Conn) send(e *Event) bool {
	select {
	case <-c.done:
		return true
	case c.writeStream <- e:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.notifyDisconnect()
		c.conn.Close()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		event.Dispatcher = c.username
		event.ConnID = c.id

		// Dispatch inline so events from this connection are handled in
		// arrival order. Unrelated connections proceed concurrently.
		if err := c.dispatch(c.context, &event); err != nil {
			c.logger.Error(err.Error())
		}
	}
}

func (c *Conn) writeLoop() {
	var err error
	defer func() {
		c.ticker.Stop()
		if err != nil {
			c.conn.Close()
		}
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
			return
		case e := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			w, werr := c.conn.NextWriter(websocket.TextMessage)
			if werr != nil {
				err = werr
				c.logger.Error(fmt.Sprintf("NextWriter: %v", werr))
				return
			}
			if eerr := EncodeEvent(w, e); eerr != nil {
				c.logger.Error(eerr.Error())
			}
			w.Close()
		case <-c.context.Done():
			// server shutdown: hand the peer a close frame and tear the
			// conn down so the read loop unblocks immediately instead of
			// waiting out the pong deadline
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			c.conn.Close()
			return
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}
