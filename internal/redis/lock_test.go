package redisclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisLockerRunsAndReleases(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond)

	ran := false
	err := locker.WithLock(context.Background(), "practitioner:1", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:practitioner:1"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:practitioner:1"), "lock key should be released")
}

func TestRedisLockerHeldLockTimesOut(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set("lock:practitioner:2", "someone-else"))

	locker := NewRedisLocker(client, time.Second, 60*time.Millisecond)
	err := locker.WithLock(context.Background(), "practitioner:2", func(ctx context.Context) error {
		t.Fatal("critical section must not run while lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	val, _ := mr.Get("lock:practitioner:2")
	assert.Equal(t, "someone-else", val, "foreign token must not be deleted")
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set("lock:practitioner:3", "other"))

	go func() {
		time.Sleep(60 * time.Millisecond)
		mr.Del("lock:practitioner:3")
	}()

	locker := NewRedisLocker(client, time.Second, time.Second)
	err := locker.WithLock(context.Background(), "practitioner:3", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestRedisLockerPropagatesError(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 10*time.Millisecond)

	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "practitioner:4", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker(time.Second)

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "practitioner:5", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocalLockerTimesOut(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), "practitioner:6", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := locker.WithLock(context.Background(), "practitioner:6", func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	close(release)

	// other keys are independent
	require.NoError(t, locker.WithLock(context.Background(), "practitioner:7", func(ctx context.Context) error {
		return nil
	}))
}
