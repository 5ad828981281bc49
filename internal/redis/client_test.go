package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("clinic", "s3cret")

	rdb, err := NewRedisClient(context.Background(), ClientOptions{
		Addr:     mr.Addr(),
		Username: "clinic",
		Password: "s3cret",
		DB:       2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	require.NoError(t, rdb.Set(context.Background(), "lock:practitioner:1", "x", 0).Err())
	got, err := mr.DB(2).Get("lock:practitioner:1")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestNewRedisClientRejectsBadCredentials(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireUserAuth("clinic", "s3cret")

	_, err := NewRedisClient(context.Background(), ClientOptions{Addr: mr.Addr(), Username: "clinic", Password: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis at "+mr.Addr())
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), ClientOptions{Addr: addr})
	assert.Error(t, err)
}

func TestClientOptionsTimeouts(t *testing.T) {
	tests := []struct {
		name     string
		opts     ClientOptions
		wantIO   time.Duration
		wantPool int
	}{
		{"defaults", ClientOptions{}, 2 * time.Second, 10},
		{"long lock keeps default", ClientOptions{LockTTL: 10 * time.Second}, 2 * time.Second, 10},
		{"short lock caps timeout", ClientOptions{LockTTL: time.Second, PoolSize: 4}, 500 * time.Millisecond, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.opts.redisOptions()
			assert.Equal(t, tt.wantIO, o.ReadTimeout)
			assert.Equal(t, tt.wantIO, o.WriteTimeout)
			assert.Equal(t, tt.wantPool, o.PoolSize)
		})
	}
}
