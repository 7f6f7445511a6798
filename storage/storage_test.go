package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/toolweave/internal/errs"
	"github.com/richinex/toolweave/llm"
)

// backends returns a fresh store of every kind.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSqliteInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewInMemoryStorage(),
		"sqlite": sqlite,
	}
}

func transcript() []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "What is 2+2?"},
		{Role: "assistant", Content: "", ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "add", Arguments: map[string]any{"a": float64(2), "b": float64(2)}},
		}},
		{Role: "tool", Content: "4", ToolCallID: "call_1", Name: "add"},
		{Role: "assistant", Content: "2+2 is 4."},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, "s1", transcript()))

			loaded, err := store.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, transcript(), loaded)
		})
	}
}

func TestLoadMissingSessionIsEmpty(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			loaded, err := store.Load(ctx, "nope")
			require.NoError(t, err)
			assert.NotNil(t, loaded)
			assert.Empty(t, loaded)

			ok, err := store.Exists(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSaveReplacesHistory(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, "s1", transcript()))
			short := []llm.ChatMessage{{Role: "user", Content: "again"}}
			require.NoError(t, store.Save(ctx, "s1", short))

			loaded, err := store.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, short, loaded)
		})
	}
}

func TestDeleteRemovesHistoryAndRuns(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, "s1", transcript()))
			require.NoError(t, store.RecordRun(ctx, NewRun("s1", "q", "a", "success")))
			require.NoError(t, store.Delete(ctx, "s1"))

			ok, err := store.Exists(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)

			loaded, err := store.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, loaded)

			runs, err := store.Runs(ctx, "s1", 0)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sessions, err := store.ListSessions(ctx)
			require.NoError(t, err)
			assert.Empty(t, sessions)

			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, store.Save(ctx, id, transcript()[:1]))
			}
			sessions, err = store.ListSessions(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b", "c"}, sessions)
		})
	}
}

func TestRunsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, q := range []string{"first", "second", "third"} {
				run := NewRun("s1", q, "ok", "success")
				run.CreatedAt = int64(100 + i)
				run.Iterations = i + 1
				require.NoError(t, store.RecordRun(ctx, run))
			}
			require.NoError(t, store.RecordRun(ctx, NewRun("other", "x", "y", "failure")))

			runs, err := store.Runs(ctx, "s1", 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "third", runs[0].Query)
			assert.Equal(t, 3, runs[0].Iterations)
			assert.Equal(t, "second", runs[1].Query)

			all, err := store.Runs(ctx, "s1", 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestInMemoryLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStorage()
	require.NoError(t, store.Save(ctx, "s1", transcript()))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	loaded[0].Content = "mutated"
	loaded[2].ToolCalls[0].Name = "mutated"

	again, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "You are helpful.", again[0].Content)
	assert.Equal(t, "add", again[2].ToolCalls[0].Name)
}

func TestOpenSqliteFilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "toolweave.db")

	store, err := OpenSqlite(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "s1", transcript()))
	require.NoError(t, store.Close())

	reopened, err := OpenSqlite(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, transcript(), loaded)
}

func TestOpenDriver(t *testing.T) {
	store, err := Open("", "")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStorage{}, store)

	store, err = Open("sqlite", "")
	require.NoError(t, err)
	assert.IsType(t, &SqliteStorage{}, store)
	require.NoError(t, store.Close())

	_, err = Open("redis", "")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}
