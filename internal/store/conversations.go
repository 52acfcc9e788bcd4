package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Conversation is one chat thread.
type Conversation struct {
	ID        int64
	Title     string
	Metadata  *string // raw JSON blob, opaque to the store
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, title string, metadata *string) (*Conversation, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (title, metadata_json, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		title, nullString(metadata), now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: conversation id: %w", err)
	}
	return &Conversation{ID: id, Title: title, Metadata: metadata, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var (
		c        Conversation
		metadata sql.NullString
		created  int64
		updated  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, metadata_json, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &metadata, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation %d: %w", id, err)
	}
	c.Metadata = fromNullString(metadata)
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return &c, nil
}
