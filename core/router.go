package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Forwarder delivers an event to all live connections of the named users.
// It is implemented by ConnManager.
type Forwarder interface {
	SendToUsers(e *Event, usernames ...string)
}

// TypingUpdate is a transient typing indicator. It is relayed live and
// never persisted.
type TypingUpdate struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Typing bool   `json:"typing"`
}

// ChatRouter accepts send and seen requests, records them, and forwards
// the resulting events to the affected users' live connections.
//
// Each method is safe for concurrent use. Calls made sequentially for the
// same sender and recipient are forwarded in call order; no ordering is
// guaranteed across unrelated pairs.
type ChatRouter struct {
	messages  MessageStore
	users     UserStore
	forwarder Forwarder
	logger    *slog.Logger
}

func NewChatRouter(messages MessageStore, users UserStore, forwarder Forwarder, logger *slog.Logger) *ChatRouter {
	return &ChatRouter{
		messages:  messages,
		users:     users,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Send validates, persists, and forwards a message from one user to another.
//
// The body must be non-empty after trimming and at most MaxMessageLength
// characters, and a user cannot message themselves; violations are rejected
// with an explicit error before anything is persisted. The message is
// persisted regardless of whether the recipient has live connections: a
// recipient with none simply receives nothing live and sees the message on
// the next historical fetch.
func (r *ChatRouter) Send(ctx context.Context, from, to, body string) (*Message, error) {
	input := SendMessageInput{From: from, To: to, Body: body}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	recipient, err := r.users.GetUserByUsername(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("GetUserByUsername: %w", err)
	}
	if recipient == nil {
		return nil, ErrInvalidRecipient
	}

	msg := Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Body:      strings.TrimSpace(body),
		Seen:      false,
		CreatedAt: time.Now(),
	}

	if err := r.messages.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("InsertMessage: %w", err)
	}

	e, err := NewEvent(MessageEvent, msg)
	if err != nil {
		return nil, err
	}
	r.forwarder.SendToUsers(e, to)

	return &msg, nil
}

// MarkSeen transitions all unseen messages sent by other to viewer to seen,
// and forwards a seen receipt to other's live connections so the sender's
// local copies reflect the new status. Invoking it when nothing is unseen
// is a no-op: no event is forwarded and no error is returned.
func (r *ChatRouter) MarkSeen(ctx context.Context, viewer, other string) (*SeenReceipt, error) {
	updated, seenAt, err := r.messages.MarkConversationSeen(ctx, viewer, other)
	if err != nil {
		return nil, fmt.Errorf("MarkConversationSeen: %w", err)
	}
	if updated == 0 {
		return nil, nil
	}

	receipt := SeenReceipt{By: viewer, Other: other, SeenAt: seenAt}
	e, err := NewEvent(SeenEvent, receipt)
	if err != nil {
		return nil, err
	}
	r.forwarder.SendToUsers(e, other)

	return &receipt, nil
}

// Typing relays a typing indicator to the other party's live connections.
func (r *ChatRouter) Typing(ctx context.Context, update TypingUpdate) error {
	if update.From == update.To {
		return ErrSelfSend
	}
	e, err := NewEvent(TypingEvent, update)
	if err != nil {
		return err
	}
	r.forwarder.SendToUsers(e, update.To)
	return nil
}
