package courier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/putto11262002/courier/core"
)

type JoinPayload struct {
	Username string `json:"username"`
}

type SendMessagePayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type SeenPayload struct {
	// Other is the sender of the unseen messages being marked as seen.
	Other string `json:"other"`
}

type TypingPayload struct {
	To     string `json:"to"`
	Typing bool   `json:"typing"`
}

type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// replyError reports a rejected operation back to the connection that
// issued it. Failures never silently vanish on the server side.
func (app *App) replyError(e *core.Event, cause error) {
	payload := ErrorPayload{Event: e.Type, Error: cause.Error()}
	reply, err := core.NewEvent(core.ErrorEvent, payload)
	if err != nil {
		return
	}
	app.wsManager.SendToConn(reply, e.Dispatcher, e.ConnID)
}

// JoinEventHandler completes presence registration for a connection.
// Registration already happened at upgrade time from the authenticated
// session, so joining is idempotent; a join naming another user is
// rejected.
func (app *App) JoinEventHandler(ctx context.Context, e *core.Event) error {
	var payload JoinPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal join payload: %w", err)
	}

	if payload.Username != "" && payload.Username != e.Dispatcher {
		err := fmt.Errorf("join identity mismatch: %s", payload.Username)
		app.replyError(e, err)
		return err
	}
	return nil
}

func (app *App) MessageEventHandler(ctx context.Context, e *core.Event) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal message payload: %w", err)
	}

	if _, err := app.chatRouter.Send(ctx, e.Dispatcher, payload.To, payload.Body); err != nil {
		app.replyError(e, err)
		return fmt.Errorf("Send: %w", err)
	}
	return nil
}

func (app *App) SeenEventHandler(ctx context.Context, e *core.Event) error {
	var payload SeenPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal seen payload: %w", err)
	}

	if _, err := app.chatRouter.MarkSeen(ctx, e.Dispatcher, payload.Other); err != nil {
		app.replyError(e, err)
		return fmt.Errorf("MarkSeen: %w", err)
	}
	return nil
}

func (app *App) TypingEventHandler(ctx context.Context, e *core.Event) error {
	var payload TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}

	update := core.TypingUpdate{From: e.Dispatcher, To: payload.To, Typing: payload.Typing}
	if err := app.chatRouter.Typing(ctx, update); err != nil {
		return fmt.Errorf("Typing: %w", err)
	}
	return nil
}
