package courier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/courier/core"
	"github.com/putto11262002/courier/pkg/router"
	"github.com/samber/lo"
)

type ChatHandler struct {
	messages core.MessageStore
	users    core.UserStore
}

func NewChatHandler(messages core.MessageStore, users core.UserStore) *ChatHandler {
	return &ChatHandler{messages: messages, users: users}
}

type HistoryMessage struct {
	core.Message
	// Mine indicates the viewer is the sender of this message.
	Mine bool `json:"mine"`
}

// HistoryResponse is the historical view of a conversation: the viewer's own
// identity, the other participant's profile, and the ordered message list.
type HistoryResponse struct {
	Viewer   string                  `json:"viewer"`
	Other    core.UserWithoutSecrets `json:"other"`
	Messages []HistoryMessage        `json:"messages"`
}

// GetConversationHandler returns the conversation with the user named in the
// path, ordered oldest to newest.
func (h *ChatHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	otherUsername := chi.URLParam(r, "username")

	other, err := h.users.GetUserByUsername(r.Context(), otherUsername)
	if err != nil {
		return fmt.Errorf("GetUserByUsername: %w", err)
	}
	if other == nil {
		return router.NewJsonError(http.StatusNotFound, "user not found")
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.messages.GetConversation(r.Context(), session.Username, otherUsername, offset, limit)
	if err != nil {
		return fmt.Errorf("GetConversation: %w", err)
	}

	res := HistoryResponse{
		Viewer: session.Username,
		Other:  *other,
		Messages: lo.Map(messages, func(msg core.Message, _ int) HistoryMessage {
			return HistoryMessage{Message: msg, Mine: msg.From == session.Username}
		}),
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		return fmt.Errorf("Encode: %w", err)
	}
	return nil
}

// GetConversationSummariesHandler returns one summary per conversation the
// viewer participates in, most recent first.
func (h *ChatHandler) GetConversationSummariesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)

	summaries, err := h.messages.GetConversationSummaries(r.Context(), session.Username)
	if err != nil {
		return fmt.Errorf("GetConversationSummaries: %w", err)
	}
	if summaries == nil {
		summaries = []core.ConversationSummary{}
	}

	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		return fmt.Errorf("Encode: %w", err)
	}
	return nil
}
