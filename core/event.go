package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Event types exchanged over the messaging transport.
const (
	// JoinEvent registers a connection under a user identity. The server
	// validates the identity against the authenticated session, so joining
	// is idempotent and a join for another user is rejected.
	JoinEvent = "join"
	// MessageEvent carries a chat message. Client to server it is a send
	// request, server to client it delivers the persisted message.
	MessageEvent = "message"
	// SeenEvent marks a conversation's unseen messages as seen. Client to
	// server it names the other party, server to client it carries the
	// seen receipt delivered to the original sender.
	SeenEvent = "seen"
	// TypingEvent relays a transient typing indicator to the other party.
	// It is never persisted.
	TypingEvent = "typing"
	// ErrorEvent reports a rejected operation back to the offending
	// connection, so transport-level failures are visible to the caller.
	ErrorEvent = "error"
)

type Event struct {
	// Dispatcher is the authenticated user of the connection the event
	// arrived on. It is never taken from the wire.
	Dispatcher string `json:"-"`
	// ConnID is the connection the event arrived on, for targeted replies.
	ConnID  int64           `json:"-"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Dispatcher: %s, Type: %s, Payload.Size: %d}", e.Dispatcher, e.Type, len(e.Payload))
}

func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

type EventHandler func(context.Context, *Event) error

// EventRouter maps event types to handlers. Dispatch is invoked inline by
// each connection's read loop: events from one connection are handled in
// arrival order, while events from different connections are handled
// concurrently. Handlers must be safe to call from multiple goroutines.
type EventRouter struct {
	handlers map[string]EventHandler
	logger   *slog.Logger
}

func NewEventRouter(logger *slog.Logger) *EventRouter {
	return &EventRouter{
		handlers: make(map[string]EventHandler),
		logger:   logger,
	}
}

// On registers a handler for an event type. It must not be called after the
// router started dispatching.
func (em *EventRouter) On(eventType string, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventRouter) Dispatch(ctx context.Context, e *Event) error {
	handler, ok := em.handlers[e.Type]
	if !ok {
		em.logger.Warn(fmt.Sprintf("no handler for event type: %s", e.Type))
		return nil
	}
	if err := handler(ctx, e); err != nil {
		return fmt.Errorf("%s handler: %w", e.Type, err)
	}
	return nil
}
