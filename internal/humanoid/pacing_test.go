package humanoid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korvuslabs/prowl/internal/config"
)

func TestStealthNoneNeverDelays(t *testing.T) {
	p := New(config.StealthNone, 1)
	for i := 0; i < 10; i++ {
		assert.Zero(t, p.Next())
	}

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestDelaysStayInsideConfiguredBand(t *testing.T) {
	p := New(config.StealthAggressive, 42)
	for i := 0; i < 100; i++ {
		d := p.Next()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestDelaysVary(t *testing.T) {
	p := New(config.StealthBasic, 7)
	seen := map[time.Duration]bool{}
	for i := 0; i < 20; i++ {
		seen[p.Next()] = true
	}
	assert.Greater(t, len(seen), 1, "noise-driven delays should not be constant")
}

func TestWaitHonorsCancellation(t *testing.T) {
	p := New(config.StealthAggressive, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
