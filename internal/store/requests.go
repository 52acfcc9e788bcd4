package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
)

// Status is the request lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Request is one deferred upstream call, deduplicated per conversation
// by input hash.
type Request struct {
	ID                 string
	ConversationID     int64
	MessageID          string
	Model              string
	ParamsJSON         *string
	InputHash          string
	ProviderResponseID *string
	Status             Status
	ErrorJSON          *string
	Tries              int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	OutputText         *string
	RawJSON            *string
	UsageJSON          *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const requestColumns = `id, conversation_id, message_id, model, params_json, input_hash,
	provider_response_id, status, error_json, tries, started_at, completed_at,
	output_text, raw_json, usage_json, created_at, updated_at`

// UpsertRequest returns the existing request for (conversationID,
// inputHash) or inserts a fresh queued row. The bool reports whether a
// new row was created. A concurrent insert losing the UNIQUE race
// observes the winner on reselect.
func (s *Store) UpsertRequest(ctx context.Context, conversationID int64, messageID, model string, paramsJSON *string, inputHash string) (*Request, bool, error) {
	if existing, err := s.requestByHash(ctx, conversationID, inputHash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (id, conversation_id, message_id, model, params_json, input_hash,
		                       status, tries, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, conversationID, messageID, model, nullString(paramsJSON), inputHash,
		StatusQueued, now.Unix(), now.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, serr := s.requestByHash(ctx, conversationID, inputHash)
			if serr != nil {
				return nil, false, fmt.Errorf("store: reselect after race: %w", serr)
			}
			L_debug("store: upsert lost insert race, reusing winner", "request", existing.ID)
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("store: insert request: %w", err)
	}

	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

func (s *Store) requestByHash(ctx context.Context, conversationID int64, inputHash string) (*Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE conversation_id = ? AND input_hash = ?`,
		conversationID, inputHash)
	return scanRequest(row)
}

// GetRequest loads a request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

// MarkStarted bumps tries and stamps started_at on first start. Only a
// non-terminal request can start.
func (s *Store) MarkStarted(ctx context.Context, id string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET tries = tries + 1,
		        started_at = COALESCE(started_at, ?),
		        updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		now, now, id, StatusQueued, StatusInProgress)
	if err != nil {
		return fmt.Errorf("store: mark started: %w", err)
	}
	return requireTransition(res, id, "start")
}

// SaveInProgress records the provider job id and moves the request to
// in_progress. Terminal rows are left untouched.
func (s *Store) SaveInProgress(ctx context.Context, id, providerResponseID string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ?, provider_response_id = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		StatusInProgress, providerResponseID, now, id, StatusQueued, StatusInProgress)
	if err != nil {
		return fmt.Errorf("store: save in_progress: %w", err)
	}
	return requireTransition(res, id, "in_progress")
}

// SaveCompletion persists output and moves the request to completed.
func (s *Store) SaveCompletion(ctx context.Context, id, outputText string, usageJSON, rawJSON *string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ?, output_text = ?, usage_json = ?, raw_json = ?,
		        completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		StatusCompleted, outputText, nullString(usageJSON), nullString(rawJSON),
		now, now, id, StatusQueued, StatusInProgress)
	if err != nil {
		return fmt.Errorf("store: save completion: %w", err)
	}
	return requireTransition(res, id, "completion")
}

// SaveFailure persists the error and moves the request to the given
// terminal status (failed, cancelled, or expired).
func (s *Store) SaveFailure(ctx context.Context, id string, status Status, errorJSON string) error {
	if !status.Terminal() || status == StatusCompleted {
		return fmt.Errorf("store: %q is not a failure status", status)
	}
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ?, error_json = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status, errorJSON, now, now, id, StatusQueued, StatusInProgress)
	if err != nil {
		return fmt.Errorf("store: save failure: %w", err)
	}
	return requireTransition(res, id, string(status))
}

// requireTransition enforces the forward-only state machine: a terminal
// row silently absorbs late transitions, a missing row errors.
func requireTransition(res sql.Result, id, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		L_debug("store: transition skipped, request terminal or missing", "request", id, "transition", what)
	}
	return nil
}

func scanRequest(row *sql.Row) (*Request, error) {
	var (
		r                  Request
		paramsJSON         sql.NullString
		providerResponseID sql.NullString
		errorJSON          sql.NullString
		startedAt          sql.NullInt64
		completedAt        sql.NullInt64
		outputText         sql.NullString
		rawJSON            sql.NullString
		usageJSON          sql.NullString
		created            int64
		updated            int64
	)
	err := row.Scan(&r.ID, &r.ConversationID, &r.MessageID, &r.Model, &paramsJSON, &r.InputHash,
		&providerResponseID, &r.Status, &errorJSON, &r.Tries, &startedAt, &completedAt,
		&outputText, &rawJSON, &usageJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan request: %w", err)
	}
	r.ParamsJSON = fromNullString(paramsJSON)
	r.ProviderResponseID = fromNullString(providerResponseID)
	r.ErrorJSON = fromNullString(errorJSON)
	r.OutputText = fromNullString(outputText)
	r.RawJSON = fromNullString(rawJSON)
	r.UsageJSON = fromNullString(usageJSON)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		r.CompletedAt = &t
	}
	r.CreatedAt = time.Unix(created, 0)
	r.UpdatedAt = time.Unix(updated, 0)
	return &r, nil
}
