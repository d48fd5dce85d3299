package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithProviderLockReleasesKey(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisProviderLocker(client, 5*time.Second, 0)
	providerID := uuid.New()

	called := false
	err := locker.WithProviderLock(context.Background(), providerID, func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists("lock:provider:"+providerID.String()))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists("lock:provider:"+providerID.String()))
}

func TestWithProviderLockBusyWithoutWait(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisProviderLocker(client, 5*time.Second, 0)
	providerID := uuid.New()

	require.NoError(t, mr.Set("lock:provider:"+providerID.String(), "someone-else"))

	err := locker.WithProviderLock(context.Background(), providerID, func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	// a foreign token is never deleted
	got, _ := mr.Get("lock:provider:" + providerID.String())
	assert.Equal(t, "someone-else", got)
}

func TestWithProviderLockPropagatesError(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedisProviderLocker(client, 5*time.Second, 0)
	boom := errors.New("boom")

	err := locker.WithProviderLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithProviderLockSerializesWaiters(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedisProviderLocker(client, 5*time.Second, 3*time.Second)
	providerID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithProviderLock(context.Background(), providerID, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}
