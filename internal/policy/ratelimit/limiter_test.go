package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSecondCall(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://blog.example.com/wp-json"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "blog.example.com"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1, Hosts: map[string]Rule{"API.Webflow.com": {RPS: 0.1, Burst: 1}}})
	require.NoError(t, l.Wait(context.Background(), "api.webflow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://api.webflow.com/v2/collections")
	require.ErrorContains(t, err, "rate limit wait")
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "shop.myshopify.com"))
	}
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", HostOf("https://Example.com/path"))
	require.Equal(t, "shop.myshopify.com", HostOf("shop.myshopify.com"))
	require.Equal(t, "unknown", HostOf(""))
}
