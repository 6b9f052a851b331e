package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache()
	_, ok := c.Get("BTCUSDT")
	require.False(t, ok)

	require.True(t, c.Set("BTCUSDT", decimal.NewFromInt(100), 10))
	assert.False(t, c.Set("BTCUSDT", decimal.NewFromInt(90), 5), "stale update must be ignored")

	p, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, c.Len())

	c.Delete("BTCUSDT")
	assert.Zero(t, c.Len())
}

func TestPriceCacheCleanup(t *testing.T) {
	c := NewPriceCache()
	c.Set("ETHUSDT", decimal.NewFromInt(1), 0)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, c.Cleanup(time.Millisecond))
	assert.Equal(t, 0, c.Stats().TotalItems)
}
