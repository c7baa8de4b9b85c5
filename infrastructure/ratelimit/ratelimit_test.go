package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRespectsBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 2})
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestResetRefillsBucket(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	l.Reset()
	assert.True(t, l.Allow())
}

func TestWaitUpToTimesOut(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.001, Burst: 1})
	assert.True(t, l.Allow())
	assert.False(t, l.WaitUpTo(20*time.Millisecond))
}
