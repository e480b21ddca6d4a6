package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giok57/lazoooSplash/internal/clock"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLimiter_Allow_Basic(t *testing.T) {
	l := NewLimiter(3, time.Minute, clock.NewMockClock(epoch))

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.2"), "request %d", i+1)
	}
	assert.False(t, l.Allow("10.0.0.2"))
}

func TestLimiter_Allow_DifferentKeys(t *testing.T) {
	l := NewLimiter(2, time.Minute, clock.NewMockClock(epoch))

	for i := 0; i < 2; i++ {
		assert.True(t, l.Allow("a"))
		assert.True(t, l.Allow("b"))
	}
	assert.False(t, l.Allow("a"))
	assert.False(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_Allow_Refill(t *testing.T) {
	mc := clock.NewMockClock(epoch)
	l := NewLimiter(2, time.Minute, mc)

	require.True(t, l.Allow("k"))
	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	mc.Advance(59 * time.Second)
	assert.False(t, l.Allow("k"))

	mc.Advance(time.Second)
	assert.True(t, l.Allow("k"))
}

func TestLimiter_AllowN(t *testing.T) {
	l := NewLimiter(5, time.Minute, clock.NewMockClock(epoch))

	assert.True(t, l.AllowN("k", 3))
	assert.False(t, l.AllowN("k", 3), "only two tokens left")
	assert.True(t, l.AllowN("k", 2))
	assert.False(t, l.Allow("k"))
}

func TestLimiter_Reset(t *testing.T) {
	l := NewLimiter(1, time.Minute, clock.NewMockClock(epoch))

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	l.Reset("k")
	assert.True(t, l.Allow("k"))
}

func TestLimiter_CleanupExpired(t *testing.T) {
	mc := clock.NewMockClock(epoch)
	l := NewLimiter(1, time.Minute, mc)

	l.Allow("old")
	mc.Advance(10 * time.Minute)
	l.Allow("fresh")

	assert.Equal(t, 1, l.CleanupExpired(5*time.Minute))
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Allow("fresh"))
}

func TestLimiter_RunCleanupStopsOnCancel(t *testing.T) {
	l := NewLimiter(1, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.RunCleanup(ctx, time.Millisecond, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
