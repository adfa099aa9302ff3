package simple

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyNeverBlocks(t *testing.T) {
	t.Parallel()

	p := New()
	p.Penalize("https://canvas.test", time.Hour)
	require.NoError(t, p.Wait(context.Background(), "https://canvas.test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx, "https://canvas.test"), context.Canceled)
}
