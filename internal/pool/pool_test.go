package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(context.Background(), 3)

	var running, peak, done atomic.Int32
	for i := 0; i < 20; i++ {
		ok := p.Submit(func(ctx context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			done.Add(1)
		})
		assert.True(t, ok)
	}
	p.Wait()

	assert.EqualValues(t, 20, done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPoolRejectsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, 2)

	release := make(chan struct{})
	var started sync.WaitGroup
	var finished, interrupted atomic.Int32
	started.Add(2)
	for i := 0; i < 2; i++ {
		assert.True(t, p.Submit(func(ctx context.Context) {
			started.Done()
			<-release
			if ctx.Err() != nil {
				interrupted.Add(1)
			}
			finished.Add(1)
		}))
	}

	started.Wait()
	cancel()
	assert.False(t, p.Submit(func(ctx context.Context) { t.Error("task ran after cancel") }))

	close(release)
	p.Wait()
	assert.EqualValues(t, 2, finished.Load(), "in-flight tasks finish")
	assert.Zero(t, interrupted.Load(), "running tasks keep a live context")
}

func TestPoolReusableAfterWait(t *testing.T) {
	p := New(context.Background(), 0)

	var count atomic.Int32
	p.Submit(func(context.Context) { count.Add(1) })
	p.Wait()
	p.Submit(func(context.Context) { count.Add(1) })
	p.Wait()

	assert.EqualValues(t, 2, count.Load())
}
