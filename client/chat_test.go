package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/putto11262002/courier/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyWith(viewer, other string, msgs ...HistoryMessage) History {
	return History{
		Viewer:   viewer,
		Other:    core.UserWithoutSecrets{Username: other},
		Messages: msgs,
	}
}

func openTestConversation(t *testing.T, s *testServer, opts ...ChatOption) (*ChatState, *ConnManager) {
	m := connectedManager(t, s, "alice")
	t.Cleanup(m.Close)

	rest := NewRestClient(s.baseURL())
	state, err := OpenConversation(context.Background(), rest, m, "bob", opts...)
	require.Nil(t, err)
	t.Cleanup(state.Close)

	// opening the conversation marks it seen
	s.waitForEvent(core.SeenEvent)
	return state, m
}

func TestOpenConversation(t *testing.T) {
	s := newTestServer(t)
	defer s.close()
	s.setHistory(historyWith("alice", "bob",
		HistoryMessage{Message: core.Message{ID: "m1", From: "bob", To: "alice", Body: "hi", Seen: true}},
		HistoryMessage{Message: core.Message{ID: "m2", From: "alice", To: "bob", Body: "hey"}, Mine: true},
	))

	state, _ := openTestConversation(t, s)

	entries := state.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].ID)
	assert.False(t, entries[0].Mine)
	assert.Equal(t, StatusSent, entries[0].Status)
	assert.True(t, entries[1].Mine)
}

func TestChatSend(t *testing.T) {
	t.Run("optimistic append then sent", func(t *testing.T) {
		s := newTestServer(t)
		defer s.close()
		s.setHistory(historyWith("alice", "bob"))

		state, _ := openTestConversation(t, s)

		entry, err := state.Send(context.Background(), "hello bob")
		require.Nil(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, StatusSent, entry.Status)
		assert.True(t, entry.Mine)

		entries := state.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "hello bob", entries[0].Body)

		e := s.waitForEvent(core.MessageEvent)
		var payload struct {
			To   string `json:"to"`
			Body string `json:"body"`
		}
		require.Nil(t, json.Unmarshal(e.Payload, &payload))
		assert.Equal(t, "bob", payload.To)
		assert.Equal(t, "hello bob", payload.Body)
	})

	t.Run("failed while disconnected, entry kept for retry", func(t *testing.T) {
		s := newTestServer(t)
		defer s.close()
		s.setHistory(historyWith("alice", "bob"))

		state, m := openTestConversation(t, s)

		connects := make(chan struct{}, 10)
		m.OnConnect(func() { connects <- struct{}{} })

		s.dropConn()
		require.Eventually(t, func() bool { return !m.IsConnected() }, baseTimeout, 20*time.Millisecond)

		entry, err := state.Send(context.Background(), "lost?")
		assert.ErrorIs(t, err, ErrDisconnected)
		require.NotNil(t, entry)
		assert.Equal(t, StatusFailed, entry.Status)

		// wait for the automatic reconnect, then retry the failed entry
		select {
		case <-connects:
		case <-time.After(10 * time.Second):
			t.Fatal("timeout waiting for reconnection")
		}

		err = state.Retry(context.Background(), entry.ID)
		require.Nil(t, err)
		s.waitForEvent(core.MessageEvent)

		entries := state.Entries()
		idx := -1
		for i, e := range entries {
			if e.ID == entry.ID {
				idx = i
			}
		}
		require.NotEqual(t, -1, idx)
		assert.Equal(t, StatusSent, entries[idx].Status)
	})

	t.Run("rejects invalid body locally", func(t *testing.T) {
		s := newTestServer(t)
		defer s.close()
		s.setHistory(historyWith("alice", "bob"))

		state, _ := openTestConversation(t, s)

		entry, err := state.Send(context.Background(), "   ")
		assert.ErrorIs(t, err, core.ErrEmptyBody)
		assert.Nil(t, entry)
		assert.Empty(t, state.Entries())
	})
}

func TestChatReceive(t *testing.T) {
	t.Run("incoming message appended and marked seen", func(t *testing.T) {
		s := newTestServer(t)
		defer s.close()
		s.setHistory(historyWith("alice", "bob"))

		updates := make(chan struct{}, 10)
		state, _ := openTestConversation(t, s, WithOnUpdate(func() {
			updates <- struct{}{}
		}))

		s.push(core.MessageEvent, core.Message{ID: "m1", From: "bob", To: "alice", Body: "hi"})

		require.Eventually(t, func() bool {
			return len(state.Entries()) == 1
		}, baseTimeout, 20*time.Millisecond)

		entries := state.Entries()
		assert.Equal(t, "m1", entries[0].ID)
		assert.False(t, entries[0].Mine)

		// the open conversation renders the message, so it reports seen
		s.waitForEvent(core.SeenEvent)
		require.NotEmpty(t, updates)
	})

	t.Run("message for another conversation raises the callback", func(t *testing.T) {
		s := newTestServer(t)
		defer s.close()
		s.setHistory(historyWith("alice", "bob"))

		foreign := make(chan core.Message, 10)
		state, _ := openTestConversation(t, s, WithOnForeignMessage(func(msg core.Message) {
			foreign <- msg
		}))

		s.push(core.MessageEvent, core.Message{ID: "m1", From: "carol", To: "alice", Body: "psst"})

		select {
		case msg := <-foreign:
			assert.Equal(t, "carol", msg.From)
		case <-time.After(baseTimeout):
			t.Fatal("timeout waiting for foreign message callback")
		}
		assert.Empty(t, state.Entries(), "foreign messages must not enter the open conversation")
	})

	t.Run("seen receipt flips own messages", func(t *testing.T) {
		s := newTestServer(t)
		defer s.close()
		s.setHistory(historyWith("alice", "bob",
			HistoryMessage{Message: core.Message{ID: "m1", From: "alice", To: "bob", Body: "hi"}, Mine: true},
			HistoryMessage{Message: core.Message{ID: "m2", From: "bob", To: "alice", Body: "yo"}},
		))

		state, _ := openTestConversation(t, s)

		s.push(core.SeenEvent, core.SeenReceipt{By: "bob", Other: "alice", SeenAt: time.Now()})

		require.Eventually(t, func() bool {
			entries := state.Entries()
			return len(entries) == 2 && entries[0].Seen
		}, baseTimeout, 20*time.Millisecond)

		entries := state.Entries()
		assert.True(t, entries[0].Seen, "own message must be seen after the receipt")
		assert.False(t, entries[1].Seen, "the other party's message is untouched")
	})

	t.Run("typing indicator", func(t *testing.T) {
		s := newTestServer(t)
		defer s.close()
		s.setHistory(historyWith("alice", "bob"))

		typing := make(chan bool, 10)
		_, _ = openTestConversation(t, s, WithOnTyping(func(v bool) {
			typing <- v
		}))

		s.push(core.TypingEvent, core.TypingUpdate{From: "bob", To: "alice", Typing: true})

		select {
		case v := <-typing:
			assert.True(t, v)
		case <-time.After(baseTimeout):
			t.Fatal("timeout waiting for typing callback")
		}
	})
}

func TestSeenReceiptSkipsUndeliveredEntries(t *testing.T) {
	s := newTestServer(t)
	defer s.close()
	s.setHistory(historyWith("alice", "bob",
		HistoryMessage{Message: core.Message{ID: "m1", From: "alice", To: "bob", Body: "made it"}, Mine: true},
	))

	state, m := openTestConversation(t, s)

	connects := make(chan struct{}, 10)
	m.OnConnect(func() { connects <- struct{}{} })

	s.dropConn()
	require.Eventually(t, func() bool { return !m.IsConnected() }, baseTimeout, 20*time.Millisecond)

	failed, err := state.Send(context.Background(), "never landed")
	assert.ErrorIs(t, err, ErrDisconnected)
	require.NotNil(t, failed)

	select {
	case <-connects:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}
	// resync keeps the failed entry at the tail
	require.Eventually(t, func() bool {
		return len(state.Entries()) == 2
	}, baseTimeout, 20*time.Millisecond)

	s.push(core.SeenEvent, core.SeenReceipt{By: "bob", Other: "alice", SeenAt: time.Now()})

	require.Eventually(t, func() bool {
		return state.Entries()[0].Seen
	}, baseTimeout, 20*time.Millisecond)

	entries := state.Entries()
	assert.True(t, entries[0].Seen, "delivered message flips on the receipt")
	assert.False(t, entries[1].Seen, "the recipient never got the failed message")
	assert.Equal(t, StatusFailed, entries[1].Status)
}

func TestClosedConversationStopsSyncing(t *testing.T) {
	s := newTestServer(t)
	defer s.close()
	s.setHistory(historyWith("alice", "bob"))

	state, m := openTestConversation(t, s)

	connects := make(chan struct{}, 10)
	m.OnConnect(func() { connects <- struct{}{} })

	state.Close()
	fetches := s.historyFetches()

	s.dropConn()
	select {
	case <-connects:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}

	// the manager rejoins, but the closed view must stay quiet: no seen
	// receipt and no history re-fetch
	s.expectNoEvent(core.SeenEvent, 300*time.Millisecond)
	assert.Equal(t, fetches, s.historyFetches(), "closed view re-fetched history")
}

func TestChatResyncOnReconnect(t *testing.T) {
	s := newTestServer(t)
	defer s.close()
	s.setHistory(historyWith("alice", "bob"))

	state, m := openTestConversation(t, s)

	connects := make(chan struct{}, 10)
	m.OnConnect(func() { connects <- struct{}{} })

	// messages land on the server while the transport is down
	s.setHistory(historyWith("alice", "bob",
		HistoryMessage{Message: core.Message{ID: "m1", From: "bob", To: "alice", Body: "missed me?"}},
	))
	s.dropConn()

	select {
	case <-connects:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for reconnection")
	}

	// the view catches up from the historical record
	require.Eventually(t, func() bool {
		entries := state.Entries()
		return len(entries) == 1 && entries[0].ID == "m1"
	}, baseTimeout, 20*time.Millisecond)
}
