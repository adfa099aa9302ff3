package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompletionStore(t *testing.T) {
	t.Parallel()

	store := NewCompletionStore()
	ctx := context.Background()
	t0 := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetCompleted(ctx, "https://canvas.test/courses/1/assignments/1", true, t0))
	require.NoError(t, store.SetCompleted(ctx, "https://canvas.test/courses/1/assignments/2", true, t0.Add(time.Hour)))
	// Re-marking keeps the original timestamp.
	require.NoError(t, store.SetCompleted(ctx, "https://canvas.test/courses/1/assignments/1", true, t0.Add(2*time.Hour)))

	set, err := store.CompletedSet(ctx, []string{
		"https://canvas.test/courses/1/assignments/1",
		"https://canvas.test/courses/1/assignments/3",
	})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"https://canvas.test/courses/1/assignments/1": true}, set)

	list, err := store.ListCompleted(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "https://canvas.test/courses/1/assignments/2", list[0].URL)
	require.True(t, list[1].CompletedAt.Equal(t0))

	require.NoError(t, store.SetCompleted(ctx, "https://canvas.test/courses/1/assignments/1", false, t0))
	set, err = store.CompletedSet(ctx, []string{"https://canvas.test/courses/1/assignments/1"})
	require.NoError(t, err)
	require.Empty(t, set)
	require.NoError(t, store.Close())
}
