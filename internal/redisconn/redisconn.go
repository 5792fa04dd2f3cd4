// Package redisconn builds Redis clients for the two deployment modes the service supports: a single standalone
// endpoint or a Sentinel-managed high-availability group that resolves the current primary by name.
package redisconn

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jes11sy/realtime-service/internal/config"
)

// Connect builds a client according to cfg.RedisMode and pings it to verify the connection.
func Connect(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	client := NewClient(cfg)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewClient builds a client without connecting. The pub/sub bridge uses this to hold a dedicated subscriber
// connection whose liveness is managed by its own reconnect loop.
func NewClient(cfg *config.Config) redis.UniversalClient {
	if cfg.RedisMode == config.RedisModeSentinel {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.RedisSentinelName,
			SentinelAddrs: []string{cfg.SentinelAddr()},
			Password:      cfg.RedisPassword,
			DialTimeout:   cfg.ConnectTimeout,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr(),
		Password:    cfg.RedisPassword,
		DialTimeout: cfg.ConnectTimeout,
	})
}
