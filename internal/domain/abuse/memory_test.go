package abuse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftzone/craftzone-api/internal/pkg/clock"
)

var referralPolicy = Policy{Class: ClassReferralApply, Window: 24 * time.Hour, MaxAttempts: 1}

func TestMemoryGuardDeniesWithinWindow(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	g := NewMemoryGuard(clk)
	ctx := context.Background()

	d, err := g.CheckAndRecord(ctx, "203.0.113.7", referralPolicy)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	denied := 0
	for i := 0; i < 3; i++ {
		clk.Advance(time.Hour)
		d, err := g.CheckAndRecord(ctx, "203.0.113.7", referralPolicy)
		require.ErrorIs(t, err, ErrRateLimited)
		assert.False(t, d.Allowed)
		denied++
	}
	assert.Equal(t, 3, denied)

	var le *LimitError
	_, err = g.CheckAndRecord(ctx, "203.0.113.7", referralPolicy)
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ClassReferralApply, le.Class)
	assert.Equal(t, 21*time.Hour, le.RetryAfter)
	assert.Equal(t, 21*time.Hour, RetryAfter(err))

	// Other actors are independent.
	_, err = g.CheckAndRecord(ctx, "198.51.100.1", referralPolicy)
	assert.NoError(t, err)
}

func TestMemoryGuardWindowSlides(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	g := NewMemoryGuard(clk)
	ctx := context.Background()
	p := Policy{Class: ClassPasswordReset, Window: time.Hour, MaxAttempts: 3}

	for i := 0; i < 3; i++ {
		_, err := g.CheckAndRecord(ctx, "a@example.com", p)
		require.NoError(t, err)
		clk.Advance(10 * time.Minute)
	}
	_, err := g.CheckAndRecord(ctx, "a@example.com", p)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 30*time.Minute, RetryAfter(err))

	// The first attempt leaves the window after exactly one hour.
	clk.Advance(30 * time.Minute)
	_, err = g.CheckAndRecord(ctx, "a@example.com", p)
	assert.NoError(t, err)
}

func TestMemoryGuardRelease(t *testing.T) {
	g := NewMemoryGuard(clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	d, err := g.CheckAndRecord(ctx, "u1", referralPolicy)
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, d))
	assert.Equal(t, 0, g.Len())

	_, err = g.CheckAndRecord(ctx, "u1", referralPolicy)
	assert.NoError(t, err)

	// Releasing a denied decision is a no-op.
	denied, err := g.CheckAndRecord(ctx, "u1", referralPolicy)
	require.Error(t, err)
	assert.NoError(t, g.Release(ctx, denied))
	assert.Equal(t, 1, g.Len())
}

func TestMemoryGuardSweep(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	g := NewMemoryGuard(clk)
	ctx := context.Background()
	p := Policy{Class: ClassVote, Window: 5 * time.Minute, MaxAttempts: 1}

	for _, k := range []string{"a", "b", "c"} {
		_, err := g.CheckAndRecord(ctx, k, p)
		require.NoError(t, err)
	}
	clk.Advance(5 * time.Minute)
	_, err := g.CheckAndRecord(ctx, "d", p)
	require.NoError(t, err)

	assert.Equal(t, 3, g.Sweep())
	assert.Equal(t, 1, g.Len())
}

func TestInvalidPolicy(t *testing.T) {
	g := NewMemoryGuard(nil)
	_, err := g.CheckAndRecord(context.Background(), "x", Policy{Class: ClassVote})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}
