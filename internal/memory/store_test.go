package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/embedding"
)

func testStore(t *testing.T, permanentPath string) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "memory.db")
	cfg.PermanentPath = permanentPath

	s, err := Open(cfg, embedding.NewLocalProvider(64, "cpu", slog.Default()), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRetrieve_HistoryScopedToTask(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "")

	require.NoError(t, s.AppendTurn(ctx, "t1", "user", "how do whales sleep"))
	require.NoError(t, s.AppendTurn(ctx, "t1", "assistant", "whales sleep with half their brain awake"))
	require.NoError(t, s.AppendTurn(ctx, "t2", "user", "unrelated question about trains"))

	bundle, err := s.Retrieve(ctx, "whale sleeping habits", "t1")
	require.NoError(t, err)
	require.Len(t, bundle.History, 2)
	for _, turn := range bundle.History {
		assert.Equal(t, "t1", turn.TaskID)
	}

	bundle, err = s.Retrieve(ctx, "whale sleeping habits", "t2")
	require.NoError(t, err)
	require.Len(t, bundle.History, 1)
	assert.Contains(t, bundle.History[0].Content, "trains")
}

func TestRetrieve_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "")

	for i := 0; i < 12; i++ {
		require.NoError(t, s.AppendTurn(ctx, "t1", "user", fmt.Sprintf("message number %d", i)))
	}

	bundle, err := s.Retrieve(ctx, "message", "t1")
	require.NoError(t, err)
	assert.Len(t, bundle.History, s.cfg.HistoryLimit)
}

func TestRetrieve_TaskNotesBounded(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "")

	for i := 0; i < 10; i++ {
		require.NoError(t, s.AddTaskNote(ctx, "t1", fmt.Sprintf("note %d", i)))
	}

	bundle, err := s.Retrieve(ctx, "anything", "t1")
	require.NoError(t, err)
	assert.Len(t, bundle.Task, s.cfg.TaskLimit)
}

func TestClearTask_LeavesOtherTiersUntouched(t *testing.T) {
	ctx := context.Background()
	permanent := filepath.Join(t.TempDir(), "permanent.txt")
	require.NoError(t, os.WriteFile(permanent,
		[]byte("The deploy password lives in the vault.\n\nAlways use UTC in logs.\n"), 0o644))
	s := testStore(t, permanent)

	require.NoError(t, s.AppendTurn(ctx, "t1", "user", "t1 question"))
	require.NoError(t, s.AddTaskNote(ctx, "t1", "t1 note"))
	require.NoError(t, s.AppendTurn(ctx, "t2", "user", "t2 question"))
	require.NoError(t, s.AddTaskNote(ctx, "t2", "t2 note"))

	require.NoError(t, s.ClearTask(ctx, "t1"))

	bundle, err := s.Retrieve(ctx, "question", "t1")
	require.NoError(t, err)
	assert.Empty(t, bundle.History, "t1 turns should be gone")
	assert.Empty(t, bundle.Task, "t1 notes should be gone")
	assert.Len(t, bundle.Permanent, 2, "permanent tier must survive task clears")

	bundle, err = s.Retrieve(ctx, "question", "t2")
	require.NoError(t, err)
	assert.Len(t, bundle.History, 1, "t2 turns must be untouched")
	assert.Len(t, bundle.Task, 1, "t2 notes must be untouched")
}

func TestAddPermanent_AppendsToFile(t *testing.T) {
	permanent := filepath.Join(t.TempDir(), "permanent.txt")
	s := testStore(t, permanent)

	require.NoError(t, s.AddPermanent("Ship on Fridays only with a rollback plan."))

	// A fresh store sees the appended note.
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "memory.db")
	cfg.PermanentPath = permanent
	reopened, err := Open(cfg, embedding.NewLocalProvider(64, "cpu", slog.Default()), slog.Default())
	require.NoError(t, err)
	defer reopened.Close()

	bundle, err := reopened.Retrieve(context.Background(), "anything", "t1")
	require.NoError(t, err)
	require.Len(t, bundle.Permanent, 1)
	assert.Contains(t, bundle.Permanent[0].Content, "rollback plan")
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75, 0}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
