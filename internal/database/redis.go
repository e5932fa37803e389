package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"drivingschool/server/internal/logger"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis connects through Sentinel when sentinel addresses and a master
// name are given, and directly through redisURL otherwise.
func ConnectRedis(ctx context.Context, redisURL string, sentinelAddrs []string, masterName string) (*redis.Client, error) {
	if len(sentinelAddrs) > 0 && masterName != "" {
		return ConnectRedisWithSentinel(ctx, sentinelAddrs, masterName, "")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 2
	opt.MaxRetries = 3

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log := logger.WithComponent("database")
	log.Info().Str("addr", opt.Addr).Msg("Redis connected")
	return client, nil
}

// ConnectRedisWithSentinel connects to the master announced by the sentinels
func ConnectRedisWithSentinel(ctx context.Context, sentinelAddrs []string, masterName, password string) (*redis.Client, error) {
	var addrs []string
	for _, a := range sentinelAddrs {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				addrs = append(addrs, part)
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no Sentinel addresses provided")
	}

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    masterName,
		SentinelAddrs: addrs,
		Password:      password,
		PoolSize:      20,
		MinIdleConns:  2,
		MaxRetries:    3,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis Sentinel: %w", err)
	}

	log := logger.WithComponent("database")
	log.Info().
		Str("master", masterName).
		Strs("sentinels", addrs).
		Msg("Redis Sentinel connected")
	return client, nil
}

// CloseRedis closes the client if it is set
func CloseRedis(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
