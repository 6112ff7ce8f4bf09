// Copyright 2025 James Ross
package redisclient

import (
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mammothbox/mammothbox/internal/config"
)

// New returns a configured go-redis v9 client for the distributed queue
// backend, pool size scaled to the host's CPU count.
func New(cfg *config.Config) *redis.Client {
	poolSize := 10 * runtime.NumCPU()
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Queue.RedisAddr,
		PoolSize:    poolSize,
		DialTimeout: 5 * time.Second,
		MaxRetries:  3,
	})
}
