package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rebillhq/rebill/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis cache server.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0, // use default DB
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Lock is a best-effort distributed lease backed by SET NX EX. Used by the
// sweeper so concurrent instances don't work the same subscription at once.
type Lock struct{}

// NewLock returns a lease helper using the shared Redis client.
func NewLock() *Lock {
	return &Lock{}
}

// Acquire takes the lease for key if it is free. The lease self-expires
// after ttl, so a crashed holder cannot wedge the sweep permanently.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return GetClient().SetNX(ctx, key, "1", ttl).Result()
}

// Release frees the lease early.
func (l *Lock) Release(ctx context.Context, key string) error {
	return GetClient().Del(ctx, key).Err()
}
