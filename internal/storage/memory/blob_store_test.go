package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/canvaspal/internal/assignment"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "snapshots/latest.json", "application/json", bytes.NewReader([]byte(`{"id":"a"}`)))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/latest.json", uri)

	got, err := store.GetObject(ctx, "snapshots/latest.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a"}`, string(got))

	got[0] = 'X'
	again, err := store.GetObject(ctx, "snapshots/latest.json")
	require.NoError(t, err)
	require.Equal(t, byte('{'), again[0], "stored copy must not alias caller slices")

	_, err = store.GetObject(ctx, "snapshots/missing.json")
	require.ErrorIs(t, err, assignment.ErrNotFound)
}
