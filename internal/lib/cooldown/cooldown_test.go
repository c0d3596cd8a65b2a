package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldown_Allow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	c := New(5 * time.Second)
	c.now = func() time.Time { return now }

	ok, _ := c.Allow(1)
	assert.True(t, ok)

	now = start.Add(2 * time.Second)
	ok, wait := c.Allow(1)
	assert.False(t, ok)
	assert.InDelta(t, float64(3*time.Second), float64(wait), float64(10*time.Millisecond))

	ok, _ = c.Allow(2)
	assert.True(t, ok, "other users are independent")

	now = start.Add(5 * time.Second)
	ok, _ = c.Allow(1)
	assert.True(t, ok)
}

func TestCooldown_Prune(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	c := New(5 * time.Second)
	c.now = func() time.Time { return now }

	c.Allow(1)
	now = start.Add(4 * time.Second)
	c.Allow(2)

	now = start.Add(6 * time.Second)
	assert.Equal(t, 1, c.Prune())
	assert.Len(t, c.limiters, 1)
}

func TestCooldown_Disabled(t *testing.T) {
	c := New(0)
	for range 3 {
		ok, _ := c.Allow(1)
		assert.True(t, ok)
	}
}
