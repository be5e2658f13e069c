package worktree

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesSamePath(t *testing.T) {
	var l Locker
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "/repos/Data_101/")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLockIndependentPaths(t *testing.T) {
	var l Locker
	unlockA, err := l.Lock(context.Background(), "/repos/a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, ok := l.TryLock("/repos/b")
	require.True(t, ok)
	unlockB()

	_, ok = l.TryLock("/repos/a/.")
	assert.False(t, ok, "cleaned path must map to the same lock")
}

func TestLockHonorsContext(t *testing.T) {
	var l Locker
	unlock, err := l.Lock(context.Background(), "/repos/a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "/repos/a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	again, ok := l.TryLock("/repos/a")
	require.True(t, ok)
	again()
}
