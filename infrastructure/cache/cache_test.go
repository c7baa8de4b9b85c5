package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetAndGetVersioned(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	defer c.Close()

	c.Set("agent:1", "hierarchy-v0", 0)
	v, ok := c.GetVersioned("agent:1", c.Version())
	assert.True(t, ok)
	assert.Equal(t, "hierarchy-v0", v)
}

func TestBumpInvalidatesOlderVersions(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	defer c.Close()

	c.Set("agent:1", "hierarchy-v0", 0)
	c.Bump()

	_, ok := c.GetVersioned("agent:1", c.Version())
	assert.False(t, ok, "entry stamped with the old version must miss after Bump")
}

func TestExpiredEntryMisses(t *testing.T) {
	c := New(Config{DefaultTTL: time.Millisecond, CleanupInterval: time.Hour})
	defer c.Close()

	c.Set("agent:1", "hierarchy-v0", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.GetVersioned("agent:1", c.Version())
	assert.False(t, ok)
}
