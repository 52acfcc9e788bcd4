package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, func() { s.Close() }
}

func strPtr(s string) *string { return &s }

func TestCreateAndGetConversation(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "sharding advice", nil)
	require.NoError(t, err)
	assert.Greater(t, c.ID, int64(0))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "sharding advice", got.Title)

	_, err = s.GetConversation(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageDenseSeq(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m, err := s.AppendMessage(ctx, c.ID, "user", fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, i+1, m.Seq)
	}

	history, err := s.History(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, m := range history {
		assert.Equal(t, i+1, m.Seq)
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := s.AppendMessage(context.Background(), 42, "user", "hello", nil)
	require.Error(t, err)
}

func TestAppendMessageAcceptsAllRoles(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)

	for _, role := range []string{"system", "user", "assistant", "tool"} {
		_, err := s.AppendMessage(ctx, c.ID, role, "content for "+role, nil)
		require.NoError(t, err, "role %s must be accepted", role)
	}
	_, err = s.AppendMessage(ctx, c.ID, "narrator", "nope", nil)
	require.Error(t, err)

	history, err := s.History(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "tool", history[3].Role)
}

func TestUpsertRequestRequiresMessage(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)

	_, _, err = s.UpsertRequest(ctx, c.ID, "no-such-message", "openai:gpt-5", nil, "hash-1")
	require.Error(t, err)
}

func TestConcurrentAppendsKeepSeqDense(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage(ctx, c.ID, "user", fmt.Sprintf("m%d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := s.History(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, n)
	for i, m := range history {
		assert.Equal(t, i+1, m.Seq, "seq values must be dense")
	}
}

func TestHistoryWindow(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		_, err := s.AppendMessage(ctx, c.ID, "user", fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	history, err := s.History(ctx, c.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 8, history[0].Seq)
	assert.Equal(t, 10, history[2].Seq)
}

func TestAppendBumpsConversationUpdatedAt(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)

	// Force a visible clock difference at unix-second resolution.
	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour).Unix(), c.ID)
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, c.ID, "user", "hello", nil)
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, 5*time.Second)
}

func TestUpsertRequestDeduplicates(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, c.ID, "user", "hello", nil)
	require.NoError(t, err)

	first, created, err := s.UpsertRequest(ctx, c.ID, m.ID, "openai:gpt-5", nil, "hash-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusQueued, first.Status)

	second, created, err := s.UpsertRequest(ctx, c.ID, m.ID, "openai:gpt-5", nil, "hash-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM requests WHERE conversation_id = ? AND input_hash = ?`,
		c.ID, "hash-1").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestConcurrentUpsertsObserveOneRow(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, c.ID, "user", "hello", nil)
	require.NoError(t, err)

	ids := make(chan string, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _, err := s.UpsertRequest(ctx, c.ID, m.ID, "openai:gpt-5", nil, "hash-race")
			if assert.NoError(t, err) {
				ids <- req.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "all racers must observe the same row")
}

func TestRequestLifecycle(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, c.ID, "user", "hello", nil)
	require.NoError(t, err)
	req, _, err := s.UpsertRequest(ctx, c.ID, m.ID, "openai:gpt-5", nil, "hash-1")
	require.NoError(t, err)

	require.NoError(t, s.MarkStarted(ctx, req.ID))
	require.NoError(t, s.SaveInProgress(ctx, req.ID, "resp_abc"))

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, 1, got.Tries)
	require.NotNil(t, got.ProviderResponseID)
	assert.Equal(t, "resp_abc", *got.ProviderResponseID)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, s.SaveCompletion(ctx, req.ID, "the answer", strPtr(`{"input_tokens":10}`), nil))

	got, err = s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.OutputText)
	assert.Equal(t, "the answer", *got.OutputText)
	assert.NotNil(t, got.CompletedAt, "completed requests carry completed_at")
}

func TestCompletedRequestAbsorbsLateTransitions(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, c.ID, "user", "hello", nil)
	require.NoError(t, err)
	req, _, err := s.UpsertRequest(ctx, c.ID, m.ID, "openai:gpt-5", nil, "hash-1")
	require.NoError(t, err)

	require.NoError(t, s.SaveCompletion(ctx, req.ID, "done", nil, nil))

	// A late failure from a stale poller must not move the row backward.
	require.NoError(t, s.SaveFailure(ctx, req.ID, StatusFailed, `{"message":"late"}`))

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Nil(t, got.ErrorJSON)
}

func TestSaveFailure(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, c.ID, "user", "hello", nil)
	require.NoError(t, err)
	req, _, err := s.UpsertRequest(ctx, c.ID, m.ID, "openai:gpt-5", nil, "hash-1")
	require.NoError(t, err)

	require.NoError(t, s.SaveFailure(ctx, req.ID, StatusExpired, `{"message":"job expired"}`))

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	require.NotNil(t, got.ErrorJSON)
	assert.Contains(t, *got.ErrorJSON, "expired")

	err = s.SaveFailure(ctx, req.ID, StatusCompleted, "{}")
	require.Error(t, err, "completed is not a failure status")
}

func TestAssistantMessageLinksRequest(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, "", nil)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, c.ID, "user", "hello", nil)
	require.NoError(t, err)
	req, _, err := s.UpsertRequest(ctx, c.ID, m.ID, "openai:gpt-5", nil, "hash-1")
	require.NoError(t, err)
	require.NoError(t, s.SaveCompletion(ctx, req.ID, "answer", nil, nil))

	reply, err := s.AppendMessage(ctx, c.ID, "assistant", "answer", &req.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.RequestID)

	linked, err := s.GetRequest(ctx, *reply.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, linked.Status)
}
