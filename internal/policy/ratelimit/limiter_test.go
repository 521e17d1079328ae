package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms; burst 1 means the first call is free.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://edge01.example.com/live.m3u8"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://edge01.example.com/other.m3u8"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://edge01.example.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://edge02.example.com/1"))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "edge02 blocked by edge01")
	assert.Equal(t, 2, l.hosts())
}

func TestLimiter_Disabled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, "https://edge01.example.com/1"))
	}
	assert.Zero(t, l.hosts())
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "https://slow.example.com/b"))
}
