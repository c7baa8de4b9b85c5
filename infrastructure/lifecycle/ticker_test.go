package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickerWorkerFiresAndStops(t *testing.T) {
	var ticks int64
	w := NewTickerWorker("sweep", 5*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt64(&ticks, 1)
	})

	assert.NoError(t, w.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, w.Stop(context.Background()))

	fired := atomic.LoadInt64(&ticks)
	assert.True(t, fired > 0, "expected the ticker to fire at least once")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, fired, atomic.LoadInt64(&ticks), "no further ticks should fire after Stop")
}
