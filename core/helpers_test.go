package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestID(t *testing.T) string {
	t.Helper()
	return uuid.New().String()
}

func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, users ...User) {
	for _, u := range users {
		err := userStore.CreateUser(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
	}
}

// seedMessages inserts messages with strictly increasing timestamps so
// ordering assertions are deterministic.
func seedMessages(f *MessageFixture, from, to string, bodies ...string) []Message {
	base := time.Now().Add(-time.Duration(len(bodies)) * time.Second)
	msgs := make([]Message, 0, len(bodies))
	for i, body := range bodies {
		msg := Message{
			ID:        newTestID(f.t),
			From:      from,
			To:        to,
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := f.messageStore.InsertMessage(f.ctx, msg); err != nil {
			f.t.Fatal(err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
