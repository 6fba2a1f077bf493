package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsageCache_RecordAndCount(t *testing.T) {
	t.Parallel()

	c := NewUsageCache(0)
	assert.Equal(t, 0, c.Count("e1"))

	c.Record("e1")
	c.Record("e1")
	c.Record("e2")

	assert.Equal(t, 2, c.Count("e1"))
	assert.Equal(t, 1, c.Count("e2"))
	assert.False(t, c.LastUsed("e1").IsZero())
}

func TestUsageCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewUsageCache(time.Hour)
	c.now = func() time.Time { return now }

	c.Record("e1")
	assert.Equal(t, 1, c.Count("e1"))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 0, c.Count("e1"))
	assert.True(t, c.LastUsed("e1").IsZero())

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Purge())
}

func TestUsageCache_SeedAndInvalidate(t *testing.T) {
	t.Parallel()

	c := NewUsageCache(0)
	last := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c.Seed("e1", 7, last)

	assert.Equal(t, 7, c.Count("e1"))
	assert.True(t, c.LastUsed("e1").Equal(last))

	c.Invalidate("e1")
	assert.Equal(t, 0, c.Count("e1"))
}
