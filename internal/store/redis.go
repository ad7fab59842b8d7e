package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// blockingReadTimeout must exceed the BRPOP block of the event queue so an
// idle consumer is not reported as a timeout.
const blockingReadTimeout = 6 * time.Second

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client for addr. Connecting is lazy; check Healthy.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  blockingReadTimeout,
		WriteTimeout: time.Second,
		PoolSize:     20,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return r.Client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
