package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisArchive serves tiles that another process published to Redis under
// tile:<source>:<z>:<x>:<y>.
type RedisArchive struct {
	client *redis.Client
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisArchive(cfg RedisConfig) (*RedisArchive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisArchive{
		client: client,
	}, nil
}

var _ Archive = (*RedisArchive)(nil)

func RedisKey(k tile.Key) string {
	return fmt.Sprintf("tile:%s:%d:%d:%d", k.Source, k.Zoom, k.X, k.Y)
}

func (a *RedisArchive) Get(ctx context.Context, k tile.Key) ([]byte, bool, error) {
	start := time.Now()
	data, err := a.client.Get(ctx, RedisKey(k)).Bytes()
	metrics.RedisOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	a.recordPoolStats()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		metrics.RedisErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	return data, true, nil
}

// Publish stores a tile for other readers. A zero ttl keeps it forever.
func (a *RedisArchive) Publish(ctx context.Context, k tile.Key, data []byte, ttl time.Duration) error {
	start := time.Now()
	err := a.client.Set(ctx, RedisKey(k), data, ttl).Err()
	metrics.RedisOperationDuration.WithLabelValues("set").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RedisErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

func (a *RedisArchive) recordPoolStats() {
	stats := a.client.PoolStats()
	metrics.RedisPoolStats.WithLabelValues("total_conns").Set(float64(stats.TotalConns))
	metrics.RedisPoolStats.WithLabelValues("idle_conns").Set(float64(stats.IdleConns))
	metrics.RedisPoolStats.WithLabelValues("hits").Set(float64(stats.Hits))
	metrics.RedisPoolStats.WithLabelValues("misses").Set(float64(stats.Misses))
}

func (a *RedisArchive) Close() error {
	return a.client.Close()
}
