package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultIOTimeout = 2 * time.Second
	defaultPoolSize  = 10
	pingTimeout      = 5 * time.Second
)

// ClientOptions describes the connection used for practitioner locks.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int
	// LockTTL caps the read and write timeouts at half the lock lifetime, so
	// a stalled command gives up while the lock it guards is still held.
	LockTTL time.Duration
}

func (o ClientOptions) redisOptions() *redis.Options {
	io := defaultIOTimeout
	if o.LockTTL > 0 && o.LockTTL/2 < io {
		io = o.LockTTL / 2
	}
	pool := o.PoolSize
	if pool <= 0 {
		pool = defaultPoolSize
	}
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		ReadTimeout:  io,
		WriteTimeout: io,
		PoolSize:     pool,
		MinIdleConns: 1,
	}
}

// NewRedisClient connects and pings before returning.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	rdb := redis.NewClient(opts.redisOptions())

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
