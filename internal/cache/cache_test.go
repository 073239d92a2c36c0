package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NagaSistemas/lavanderia-zanotto/internal/domain"
)

func TestMemoryViewCacheRoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryViewCache()

	gen, err := c.Generation(ctx, "o1")
	require.NoError(t, err)

	items := []domain.ShipmentBalanceItem{{ProductID: "p1", ProductName: "Toalha", Pending: 3}}
	require.NoError(t, c.Set(ctx, "o1", gen, ViewBalances, items, time.Minute))

	var got []domain.ShipmentBalanceItem
	hit, err := c.Get(ctx, "o1", gen, ViewBalances, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, items[0].ProductName, got[0].ProductName)

	hit, _ = c.Get(ctx, "o2", gen, ViewBalances, &got)
	assert.False(t, hit, "owners must not share entries")

	require.NoError(t, c.Invalidate(ctx, "o1"))
	next, _ := c.Generation(ctx, "o1")
	assert.Equal(t, gen+1, next)
	hit, _ = c.Get(ctx, "o1", next, ViewBalances, &got)
	assert.False(t, hit)
}

func TestMemoryViewCacheDropsStaleGenerationWrites(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryViewCache()

	before, _ := c.Generation(ctx, "o1")
	require.NoError(t, c.Invalidate(ctx, "o1"))
	require.NoError(t, c.Set(ctx, "o1", before, ViewTickets, []string{"stale"}, time.Minute))

	var got []string
	hit, _ := c.Get(ctx, "o1", before, ViewTickets, &got)
	assert.False(t, hit)
}

func TestMemoryViewCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryViewCache()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "o1", 0, ViewTickets, []string{"x"}, time.Second))
	now = now.Add(2 * time.Second)

	var got []string
	hit, _ := c.Get(ctx, "o1", 0, ViewTickets, &got)
	assert.False(t, hit)
}

func TestNoopViewCacheNeverHits(t *testing.T) {
	var c ViewCache = NoopViewCache{}
	require.NoError(t, c.Set(context.Background(), "o1", 0, ViewBalances, 1, time.Minute))
	var got int
	hit, err := c.Get(context.Background(), "o1", 0, ViewBalances, &got)
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisViewCache(t *testing.T) {
	addr := os.Getenv("LAVANDERIA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set LAVANDERIA_TEST_REDIS_ADDR to run redis integration test")
	}
	ctx := context.Background()
	c := NewRedisViewCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	owner := "it-" + time.Now().Format("150405.000000")
	gen, err := c.Generation(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, owner, gen, ViewBalances, []int{1, 2}, time.Minute))

	var got []int
	hit, err := c.Get(ctx, owner, gen, ViewBalances, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int{1, 2}, got)

	require.NoError(t, c.Invalidate(ctx, owner))
	next, err := c.Generation(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
}
