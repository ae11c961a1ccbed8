package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = User{Username: "alice", Name: "Alice", Password: "password"}
	bob   = User{Username: "bob", Name: "Bob", Password: "password"}
	carol = User{Username: "carol", Name: "Carol", Password: "password"}
)

func TestGetConversation(t *testing.T) {
	t.Run("returns both directions oldest first", func(t *testing.T) {
		f := NewMessageFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice, bob, carol)

		sent := seedMessages(f, alice.Username, bob.Username, "one", "three")
		replies := seedMessages(f, bob.Username, alice.Username, "two", "four")
		// noise from an unrelated pair must not leak in
		seedMessages(f, alice.Username, carol.Username, "other thread")

		msgs, err := f.messageStore.GetConversation(f.ctx, alice.Username, bob.Username, 0, 0)
		require.Nil(t, err)
		require.Len(t, msgs, 4)

		for i := 1; i < len(msgs); i++ {
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
				"messages must be ordered oldest first")
		}

		got := make(map[string]bool)
		for _, m := range msgs {
			got[m.ID] = true
		}
		for _, m := range append(sent, replies...) {
			assert.True(t, got[m.ID])
		}
	})

	t.Run("pagination", func(t *testing.T) {
		f := NewMessageFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice, bob)
		seedMessages(f, alice.Username, bob.Username, "a", "b", "c", "d", "e")

		page, err := f.messageStore.GetConversation(f.ctx, alice.Username, bob.Username, 1, 2)
		require.Nil(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "b", page[0].Body)
		assert.Equal(t, "c", page[1].Body)
	})

	t.Run("empty conversation", func(t *testing.T) {
		f := NewMessageFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice, bob)

		msgs, err := f.messageStore.GetConversation(f.ctx, alice.Username, bob.Username, 0, 0)
		require.Nil(t, err)
		assert.Empty(t, msgs)
	})
}

func TestMarkConversationSeen(t *testing.T) {
	t.Run("marks only messages addressed to the viewer", func(t *testing.T) {
		f := NewMessageFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice, bob, carol)

		seedMessages(f, bob.Username, alice.Username, "hi", "there")
		seedMessages(f, alice.Username, bob.Username, "hello")
		seedMessages(f, carol.Username, alice.Username, "unrelated")

		updated, seenAt, err := f.messageStore.MarkConversationSeen(f.ctx, alice.Username, bob.Username)
		require.Nil(t, err)
		assert.Equal(t, 2, updated)
		assert.WithinDuration(t, time.Now(), seenAt, time.Second)

		msgs, err := f.messageStore.GetConversation(f.ctx, alice.Username, bob.Username, 0, 0)
		require.Nil(t, err)
		for _, m := range msgs {
			if m.To == alice.Username {
				assert.True(t, m.Seen)
			} else {
				assert.False(t, m.Seen, "the viewer's own messages must stay unseen")
			}
		}

		// the unrelated conversation is untouched
		msgs, err = f.messageStore.GetConversation(f.ctx, alice.Username, carol.Username, 0, 0)
		require.Nil(t, err)
		require.Len(t, msgs, 1)
		assert.False(t, msgs[0].Seen)
	})

	t.Run("repeat invocation updates nothing", func(t *testing.T) {
		f := NewMessageFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice, bob)
		seedMessages(f, bob.Username, alice.Username, "hi")

		updated, _, err := f.messageStore.MarkConversationSeen(f.ctx, alice.Username, bob.Username)
		require.Nil(t, err)
		require.Equal(t, 1, updated)

		updated, _, err = f.messageStore.MarkConversationSeen(f.ctx, alice.Username, bob.Username)
		require.Nil(t, err)
		assert.Equal(t, 0, updated)
	})
}

func TestGetConversationSummaries(t *testing.T) {
	f := NewMessageFixture(t)
	defer f.tearDown()
	seedUsers(f.ctx, t, f.userStore, alice, bob, carol)

	seedMessages(f, bob.Username, alice.Username, "hi", "you there?")
	seedMessages(f, alice.Username, carol.Username, "hey carol")

	summaries, err := f.messageStore.GetConversationSummaries(f.ctx, alice.Username)
	require.Nil(t, err)
	require.Len(t, summaries, 2)

	// most recently active conversation first
	assert.Equal(t, carol.Username, summaries[0].Other.Username)
	assert.Equal(t, "Carol", summaries[0].Other.Name)
	assert.Equal(t, "hey carol", summaries[0].LastMessage.Body)
	assert.Equal(t, 0, summaries[0].Unseen)

	assert.Equal(t, bob.Username, summaries[1].Other.Username)
	assert.Equal(t, "you there?", summaries[1].LastMessage.Body)
	assert.Equal(t, 2, summaries[1].Unseen)
}
