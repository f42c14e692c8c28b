package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "escrow-1")
			require.NoError(t, err)
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
	assert.Equal(t, 0, k.Len())
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, k.Len())
}

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	l := &RedisLocker{log: zap.NewNop()}
	var extends atomic.Int32
	stop := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- l.keepAlive(stop, "escrow:1", time.Millisecond, func() (bool, error) {
			extends.Add(1)
			return true, nil
		})
	}()

	require.Eventually(t, func() bool { return extends.Load() >= 3 }, time.Second, time.Millisecond)
	close(stop)
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop")
	}
}

func TestKeepAliveReportsLostLock(t *testing.T) {
	l := &RedisLocker{log: zap.NewNop()}
	var calls int
	err := l.keepAlive(make(chan struct{}), "escrow:1", time.Millisecond, func() (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("i/o timeout")
		}
		return false, nil
	})
	assert.ErrorIs(t, err, ErrLockLost)
	assert.Equal(t, 3, calls)
}
