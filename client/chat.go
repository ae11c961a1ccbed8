package client

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/courier/core"
)

// MessageStatus is the local lifecycle of an outgoing message.
type MessageStatus int

const (
	// StatusSending means the message is appended locally but not yet
	// handed to the transport.
	StatusSending MessageStatus = iota
	// StatusSent means the transport accepted the message.
	StatusSent
	// StatusFailed means the transport rejected the message, typically
	// because the connection was down. Failed entries stay in the view so
	// the author can retry them.
	StatusFailed
)

// ChatEntry is one message in the conversation view: the message itself
// plus its local delivery status. Entries received from the other party
// are always StatusSent.
type ChatEntry struct {
	core.Message
	Mine   bool
	Status MessageStatus
}

// ChatState is the single open conversation of a client session. It holds
// the merged view of fetched history and live events, ordered oldest to
// newest, and keeps that view consistent across sends, receipts and
// reconnects.
//
// All mutation happens under one lock; incoming events are applied from
// the connection's read loop, so for a given conversation updates land in
// arrival order.
type ChatState struct {
	mu      sync.Mutex
	viewer  string
	other   string
	entries []ChatEntry

	conn *ConnManager
	rest *RestClient

	subs []*Subscription

	onUpdate  func()
	onTyping  func(bool)
	onForeign func(core.Message)
}

type ChatOption func(*ChatState)

// WithOnUpdate registers a callback fired after every change to the
// conversation view. It runs with the state unlocked; read the new view
// with Entries.
func WithOnUpdate(f func()) ChatOption {
	return func(s *ChatState) {
		s.onUpdate = f
	}
}

// WithOnTyping registers a callback for the other party's typing
// indicator.
func WithOnTyping(f func(typing bool)) ChatOption {
	return func(s *ChatState) {
		s.onTyping = f
	}
}

// WithOnForeignMessage registers a callback for live messages that belong
// to a different conversation than the open one, e.g. to raise a
// notification badge.
func WithOnForeignMessage(f func(core.Message)) ChatOption {
	return func(s *ChatState) {
		s.onForeign = f
	}
}

// OpenConversation fetches the history with the named user, subscribes to
// live events, and marks the conversation seen. The returned state stays
// live until Close.
//
// After every reconnect the history is fetched again and merged, so
// messages that arrived while the transport was down are not lost from the
// view. Locally failed entries survive the merge.
func OpenConversation(ctx context.Context, rest *RestClient, conn *ConnManager, other string, opts ...ChatOption) (*ChatState, error) {
	history, err := rest.GetConversation(ctx, other)
	if err != nil {
		return nil, fmt.Errorf("GetConversation: %w", err)
	}

	s := &ChatState{
		viewer: history.Viewer,
		other:  history.Other.Username,
		conn:   conn,
		rest:   rest,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.entries = entriesFromHistory(history)

	s.subs = append(s.subs,
		conn.Subscribe(core.MessageEvent, s.handleMessage),
		conn.Subscribe(core.SeenEvent, s.handleSeen),
		conn.Subscribe(core.TypingEvent, s.handleTyping),
		conn.OnConnect(func() {
			s.resync(context.Background())
		}),
	)

	s.MarkSeen()

	return s, nil
}

// Close cancels the live subscriptions and the reconnect hook, so a closed
// view never resyncs or marks the conversation seen again. The fetched
// entries remain readable.
func (s *ChatState) Close() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
}

// Entries returns a snapshot of the conversation view, oldest first.
func (s *ChatState) Entries() []ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Send appends the message to the view optimistically and hands it to the
// transport. On transport failure the entry transitions to StatusFailed
// and the error is returned; the entry stays visible for Retry.
func (s *ChatState) Send(ctx context.Context, body string) (*ChatEntry, error) {
	input := core.SendMessageInput{From: s.viewer, To: s.other, Body: body}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	entry := ChatEntry{
		Message: core.Message{
			ID:        uuid.New().String(),
			From:      s.viewer,
			To:        s.other,
			Body:      strings.TrimSpace(body),
			CreatedAt: time.Now(),
		},
		Mine:   true,
		Status: StatusSending,
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	s.notify()

	sendErr := s.transportSend(entry.Body)

	status := StatusSent
	if sendErr != nil {
		status = StatusFailed
	}
	result := s.setStatus(entry.ID, status)
	s.notify()

	if result == nil {
		// resync replaced the view while the send was in flight; report
		// the outcome against the local copy
		entry.Status = status
		result = &entry
	}
	if sendErr != nil {
		return result, sendErr
	}
	return result, nil
}

// Retry re-sends a failed entry. It is a no-op for entries that are not
// StatusFailed.
func (s *ChatState) Retry(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := slices.IndexFunc(s.entries, func(e ChatEntry) bool { return e.ID == id })
	if idx < 0 || s.entries[idx].Status != StatusFailed {
		s.mu.Unlock()
		return nil
	}
	body := s.entries[idx].Body
	s.entries[idx].Status = StatusSending
	s.mu.Unlock()
	s.notify()

	sendErr := s.transportSend(body)

	status := StatusSent
	if sendErr != nil {
		status = StatusFailed
	}
	s.setStatus(id, status)
	s.notify()

	return sendErr
}

// setStatus transitions the entry with the given id and returns a copy of
// it. Entries are looked up by id because resync may have rebuilt the
// slice in between.
func (s *ChatState) setStatus(id string, status MessageStatus) *ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.entries, func(e ChatEntry) bool { return e.ID == id })
	if idx < 0 {
		return nil
	}
	s.entries[idx].Status = status
	entry := s.entries[idx]
	return &entry
}

// MarkSeen tells the server every unseen message in this conversation has
// been rendered. Safe to call repeatedly.
func (s *ChatState) MarkSeen() error {
	e, err := core.NewEvent(core.SeenEvent, map[string]string{"other": s.other})
	if err != nil {
		return err
	}
	return s.conn.Send(e)
}

// SetTyping relays the viewer's typing indicator to the other party. Best
// effort: a downed transport is not an error worth surfacing.
func (s *ChatState) SetTyping(typing bool) {
	e, err := core.NewEvent(core.TypingEvent, core.TypingUpdate{
		From: s.viewer, To: s.other, Typing: typing,
	})
	if err != nil {
		return
	}
	s.conn.Send(e)
}

func (s *ChatState) transportSend(body string) error {
	e, err := core.NewEvent(core.MessageEvent, map[string]string{
		"to": s.other, "body": body,
	})
	if err != nil {
		return err
	}
	return s.conn.Send(e)
}

func (s *ChatState) handleMessage(e *core.Event) {
	var msg core.Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return
	}
	if msg.From != s.other || msg.To != s.viewer {
		if s.onForeign != nil {
			s.onForeign(msg)
		}
		return
	}

	s.mu.Lock()
	s.entries = append(s.entries, ChatEntry{Message: msg, Status: StatusSent})
	s.mu.Unlock()
	s.notify()

	// the conversation is open, so the new message is rendered immediately
	s.MarkSeen()
}

func (s *ChatState) handleSeen(e *core.Event) {
	var receipt core.SeenReceipt
	if err := json.Unmarshal(e.Payload, &receipt); err != nil {
		return
	}
	if receipt.By != s.other {
		return
	}

	s.mu.Lock()
	for i := range s.entries {
		// only delivered entries; the server never saw failed or
		// in-flight ones
		if s.entries[i].Mine && s.entries[i].Status == StatusSent {
			s.entries[i].Seen = true
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *ChatState) handleTyping(e *core.Event) {
	if s.onTyping == nil {
		return
	}
	var update core.TypingUpdate
	if err := json.Unmarshal(e.Payload, &update); err != nil {
		return
	}
	if update.From != s.other {
		return
	}
	s.onTyping(update.Typing)
}

// resync replaces the view with a fresh historical fetch, keeping locally
// failed entries at the tail. Events may have been missed while the
// transport was down; the server's record is authoritative.
func (s *ChatState) resync(ctx context.Context) {
	history, err := s.rest.GetConversation(ctx, s.other)
	if err != nil {
		return
	}

	s.mu.Lock()
	var failed []ChatEntry
	for _, entry := range s.entries {
		if entry.Status == StatusFailed {
			failed = append(failed, entry)
		}
	}
	s.entries = append(entriesFromHistory(history), failed...)
	s.mu.Unlock()
	s.notify()

	s.MarkSeen()
}

func (s *ChatState) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}

func entriesFromHistory(history *History) []ChatEntry {
	entries := make([]ChatEntry, 0, len(history.Messages))
	for _, msg := range history.Messages {
		entries = append(entries, ChatEntry{
			Message: msg.Message,
			Mine:    msg.Mine,
			Status:  StatusSent,
		})
	}
	return entries
}
