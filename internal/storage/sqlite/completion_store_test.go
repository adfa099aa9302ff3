package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *CompletionStore {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "completions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), "")
	require.Error(t, err)
}

func TestNewCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "completions.db")
	store, err := New(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.FileExists(t, path)
}

func TestCompletionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	first := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	require.NoError(t, store.SetCompleted(ctx, "https://x/a", true, first))
	require.NoError(t, store.SetCompleted(ctx, "https://x/b", true, second))
	// re-marking keeps the first timestamp
	require.NoError(t, store.SetCompleted(ctx, "https://x/a", true, second.Add(time.Hour)))

	set, err := store.CompletedSet(ctx, []string{"https://x/a", "https://x/b", "https://x/c"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"https://x/a": true, "https://x/b": true}, set)

	list, err := store.ListCompleted(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "https://x/b", list[0].URL)
	require.True(t, list[1].CompletedAt.Equal(first))

	require.NoError(t, store.SetCompleted(ctx, "https://x/a", false, second))
	set, err = store.CompletedSet(ctx, []string{"https://x/a"})
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestCompletedSetEmpty(t *testing.T) {
	store := openStore(t)
	set, err := store.CompletedSet(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestReopenKeepsFlags(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "completions.db")

	store, err := New(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.SetCompleted(ctx, "https://x/a", true, time.Now()))
	require.NoError(t, store.Close())

	store, err = New(ctx, path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	set, err := store.CompletedSet(ctx, []string{"https://x/a"})
	require.NoError(t, err)
	require.True(t, set["https://x/a"])
}

func TestSetCompletedRequiresURL(t *testing.T) {
	store := openStore(t)
	require.Error(t, store.SetCompleted(context.Background(), "", true, time.Now()))
}
