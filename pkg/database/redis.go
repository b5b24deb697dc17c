package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"quarry-go/internal/config"
	"quarry-go/pkg/log"
)

// attemptsTTL 是失败计数的过期时间。
const attemptsTTL = 24 * time.Hour

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接
func InitRedis(cfg config.RedisConfig) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
}

// RedisAttemptCounter 用 Redis 记录异步任务的失败次数。
type RedisAttemptCounter struct {
	client *redis.Client
	keyFn  func(taskID string) string
}

// NewRedisAttemptCounter 创建计数器，keyFn 决定每个任务的 key。
func NewRedisAttemptCounter(client *redis.Client, keyFn func(taskID string) string) *RedisAttemptCounter {
	return &RedisAttemptCounter{client: client, keyFn: keyFn}
}

// Incr 把失败次数加一并刷新过期时间。
func (c *RedisAttemptCounter) Incr(ctx context.Context, taskID string) (int64, error) {
	key := c.keyFn(taskID)
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.client.Expire(ctx, key, attemptsTTL).Err()
	return n, nil
}

// Reset 清理失败计数。
func (c *RedisAttemptCounter) Reset(ctx context.Context, taskID string) error {
	return c.client.Del(ctx, c.keyFn(taskID)).Err()
}
