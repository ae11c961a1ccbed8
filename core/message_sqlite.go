package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SQLiteMessageStore struct {
	db        *sql.DB
	userStore UserStore
}

func NewSQLiteMessageStore(db *sql.DB, userStore UserStore) *SQLiteMessageStore {
	return &SQLiteMessageStore{
		db:        db,
		userStore: userStore,
	}
}

func (s *SQLiteMessageStore) InsertMessage(ctx context.Context, msg Message) error {
	query := `INSERT INTO messages (id, from_username, to_username, body, seen, created_at)
	          VALUES (@id, @from_username, @to_username, @body, @seen, @created_at)`
	_, err := s.db.ExecContext(ctx, query,
		sql.Named("id", msg.ID),
		sql.Named("from_username", msg.From),
		sql.Named("to_username", msg.To),
		sql.Named("body", msg.Body),
		sql.Named("seen", msg.Seen),
		sql.Named("created_at", msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("ExecContext(insert message): %w", err)
	}
	return nil
}

func (s *SQLiteMessageStore) GetConversation(ctx context.Context, a, b string, offset, limit int) ([]Message, error) {
	if limit == 0 {
		limit = 100
	}

	query := `SELECT id, from_username, to_username, body, seen, created_at FROM messages
	          WHERE (from_username = @a AND to_username = @b)
	             OR (from_username = @b AND to_username = @a)
	          ORDER BY created_at ASC, rowid ASC
	          LIMIT @limit OFFSET @offset`
	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("a", a), sql.Named("b", b),
		sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.Body, &msg.Seen, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return messages, nil
}

func (s *SQLiteMessageStore) MarkConversationSeen(ctx context.Context, viewer, other string) (int, time.Time, error) {
	seenAt := time.Now()

	query := `UPDATE messages SET seen = 1
	          WHERE to_username = @viewer AND from_username = @other AND seen = 0`
	res, err := s.db.ExecContext(ctx, query,
		sql.Named("viewer", viewer), sql.Named("other", other))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ExecContext(mark seen): %w", err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("RowsAffected: %w", err)
	}

	return int(updated), seenAt, nil
}

func (s *SQLiteMessageStore) GetConversationSummaries(ctx context.Context, username string) ([]ConversationSummary, error) {
	// One row per conversation partner carrying the latest message and the
	// count of messages the user has not seen yet.
	query := `
	SELECT other, id, from_username, to_username, body, seen, created_at, unseen
	FROM (
		SELECT
			CASE WHEN from_username = @username THEN to_username ELSE from_username END AS other,
			id, from_username, to_username, body, seen, created_at,
			(SELECT COUNT(*) FROM messages u
			 WHERE u.to_username = @username
			   AND u.from_username = CASE WHEN m.from_username = @username THEN m.to_username ELSE m.from_username END
			   AND u.seen = 0) AS unseen,
			ROW_NUMBER() OVER (
				PARTITION BY CASE WHEN from_username = @username THEN to_username ELSE from_username END
				ORDER BY created_at DESC, rowid DESC) AS rn
		FROM messages m
		WHERE from_username = @username OR to_username = @username
	)
	WHERE rn = 1
	ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("username", username))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var summaries []ConversationSummary
	others := make([]string, 0)
	for rows.Next() {
		var summary ConversationSummary
		var other string
		if err := rows.Scan(&other,
			&summary.LastMessage.ID, &summary.LastMessage.From, &summary.LastMessage.To,
			&summary.LastMessage.Body, &summary.LastMessage.Seen, &summary.LastMessage.CreatedAt,
			&summary.Unseen); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		summary.Other = UserWithoutSecrets{Username: other}
		summaries = append(summaries, summary)
		others = append(others, other)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	users, err := s.userStore.GetUsersByUsernames(ctx, others...)
	if err != nil {
		return nil, fmt.Errorf("GetUsersByUsernames: %w", err)
	}
	profiles := make(map[string]UserWithoutSecrets, len(users))
	for _, u := range users {
		profiles[u.Username] = u
	}
	for i := range summaries {
		if profile, ok := profiles[summaries[i].Other.Username]; ok {
			summaries[i].Other = profile
		}
	}

	return summaries, nil
}

var _ MessageStore = (*SQLiteMessageStore)(nil)
