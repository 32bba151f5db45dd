package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"possync/internal/config"
	"possync/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix = "possync:status:"
	deadLetterKey   = "possync:dead_letters"
	// maxDeadLetters caps the dead-letter list; older entries are trimmed.
	maxDeadLetters = 1000
)

// RedisStatusRepository mirrors scheduler status and dead letters into redis
// so that other processes on the terminal can observe the sync.
type RedisStatusRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisStatusRepository(client *redis.Client, ttl time.Duration) *RedisStatusRepository {
	return &RedisStatusRepository{
		client: client,
		ttl:    ttl,
	}
}

func statusKey(schedule string) string {
	return statusKeyPrefix + schedule
}

func (r *RedisStatusRepository) GetStatus(ctx context.Context, schedule string) (*models.SyncStatus, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, statusKey(schedule)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var status models.SyncStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

func (r *RedisStatusRepository) SaveStatus(ctx context.Context, status models.SyncStatus) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := r.client.Set(ctx, statusKey(status.Schedule), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set status in redis: %w", err)
	}
	return nil
}

// PushDeadLetter prepends the payload to the dead-letter list.
func (r *RedisStatusRepository) PushDeadLetter(ctx context.Context, payload []byte) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, deadLetterKey, payload)
	pipe.LTrim(ctx, deadLetterKey, 0, maxDeadLetters-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit dead letters, newest first.
func (r *RedisStatusRepository) DeadLetters(ctx context.Context, limit int) ([][]byte, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 || limit > maxDeadLetters {
		limit = maxDeadLetters
	}
	vals, err := r.client.LRange(ctx, deadLetterKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the client if it is set.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
