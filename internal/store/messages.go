package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
)

// Message is one turn in a conversation. Seq is dense per conversation,
// starting at 1.
type Message struct {
	ID             string
	ConversationID int64
	Role           string
	Content        string
	CreatedAt      time.Time
	Seq            int
	RequestID      *string
}

// appendRetries bounds retries when two appenders race on the same
// conversation and one loses the UNIQUE(conversation_id, seq) insert.
const appendRetries = 3

// AppendMessage atomically assigns the next seq, inserts the message,
// and bumps the conversation's updated_at.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, role, content string, requestID *string) (*Message, error) {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		msg, err := s.appendMessageOnce(ctx, conversationID, role, content, requestID)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if !isRetryableWrite(err) {
			return nil, err
		}
		L_debug("store: append lost a race, retrying", "conversation", conversationID, "attempt", attempt)
	}
	return nil, fmt.Errorf("store: append message: %w", lastErr)
}

func (s *Store) appendMessageOnce(ctx context.Context, conversationID int64, role, content string, requestID *string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`, conversationID).
		Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("store: next seq: %w", err)
	}

	now := time.Now()
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
		Seq:            seq,
		RequestID:      requestID,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, seq, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, role, content, now.Unix(), seq, nullString(requestID))
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now.Unix(), conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns the last limit messages in ascending seq order. A
// limit of 0 returns everything.
func (s *Store) History(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	query := `SELECT id, conversation_id, role, content, created_at, seq, request_id
	          FROM messages WHERE conversation_id = ? ORDER BY seq DESC`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			created   int64
			requestID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created, &m.Seq, &requestID); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		m.RequestID = fromNullString(requestID)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: history rows: %w", err)
	}

	// Rows came newest-first; flip to conversation order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MessageCount returns the number of messages in a conversation.
func (s *Store) MessageCount(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: message count: %w", err)
	}
	return n, nil
}

// isRetryableWrite reports whether a write failed on a seq collision or
// a briefly locked database.
func isRetryableWrite(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed: messages.conversation_id, messages.seq") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
