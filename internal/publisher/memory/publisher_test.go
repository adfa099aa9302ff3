package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "assignments.updated", map[string]int{"pending": 1})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "assignments.updated", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "memory-1", msgs[0].ID)

	msgs[0].Topic = "modified"
	require.NotEqual(t, "modified", pub.Messages()[0].Topic, "Messages() must return a copy")
}

func TestPublisherRetainsMostRecent(t *testing.T) {
	t.Parallel()

	pub := NewWithLogger(2, nil)
	for range 5 {
		_, err := pub.Publish(context.Background(), "t", nil)
		require.NoError(t, err)
	}
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "memory-4", msgs[0].ID)
	require.Equal(t, "memory-5", msgs[1].ID)
}
