package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxMessageLength is the maximum number of characters allowed in a message body.
const MaxMessageLength = 500

// Message represents a direct message between two users.
// A message is immutable once created, except for the Seen flag which
// transitions from false to true exactly once, triggered by the recipient.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is the view of a conversation from one participant's
// perspective: the other participant, the most recent message, and the
// number of messages the participant has not seen yet.
type ConversationSummary struct {
	Other       UserWithoutSecrets `json:"other"`
	LastMessage Message            `json:"last_message"`
	Unseen      int                `json:"unseen"`
}

// SeenReceipt reports the messages of a conversation being marked as seen.
// By is the viewer that saw the messages, Other is the sender of the
// messages that were unseen.
type SeenReceipt struct {
	By     string    `json:"by"`
	Other  string    `json:"other"`
	SeenAt time.Time `json:"seen_at"`
}

var (
	// ErrEmptyBody is returned when a message body is empty after trimming.
	ErrEmptyBody = errors.New("empty message body")
	// ErrBodyTooLong is returned when a message body exceeds MaxMessageLength.
	ErrBodyTooLong = errors.New("message body too long")
	// ErrSelfSend is returned when a user attempts to message themselves.
	ErrSelfSend = errors.New("cannot send message to self")
	// ErrInvalidRecipient is returned when the recipient does not exist.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
	Body string `json:"body" validate:"required"`
}

// Validate checks the input against the send constraints. The body is
// validated after trimming, so a body made purely of whitespace is rejected.
func (in *SendMessageInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return ErrEmptyBody
	}
	if strings.TrimSpace(in.Body) == "" {
		return ErrEmptyBody
	}
	if len([]rune(in.Body)) > MaxMessageLength {
		return ErrBodyTooLong
	}
	if in.From == in.To {
		return ErrSelfSend
	}
	return nil
}

type MessageStore interface {
	// InsertMessage persists a message. The message is stored regardless of
	// whether the recipient has any live connections.
	InsertMessage(ctx context.Context, msg Message) error

	// GetConversation returns the messages exchanged between a and b ordered
	// oldest to newest. Ties on created_at are broken by insertion order.
	// If limit is a zero value, the limit is set to 100.
	GetConversation(ctx context.Context, a, b string, offset, limit int) ([]Message, error)

	// MarkConversationSeen marks all unseen messages sent by other to viewer
	// as seen. It returns the number of messages that transitioned and the
	// time of the transition. Marking a conversation with no unseen messages
	// is a no-op, not an error.
	MarkConversationSeen(ctx context.Context, viewer, other string) (int, time.Time, error)

	// GetConversationSummaries returns one summary per conversation the user
	// participates in, ordered by the last message time descending.
	GetConversationSummaries(ctx context.Context, username string) ([]ConversationSummary, error)
}
