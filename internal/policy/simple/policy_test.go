package simple

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyNeverThrottles(t *testing.T) {
	t.Parallel()

	p := New()
	for range 1000 {
		require.NoError(t, p.Wait(context.Background(), "https://shop.example.com"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx, "shop.example.com"), context.Canceled)
}
