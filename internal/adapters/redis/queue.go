// Package redis backs the job topics with Redis lists: LPUSH to enqueue,
// BRPOP to dequeue, so each list is a FIFO.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"service-sopm/internal/config"
	"service-sopm/internal/core/scheduler"
)

type Queue struct {
	client *redis.Client
	lg     zerolog.Logger
}

// New connects and pings the server.
func New(ctx context.Context, cfg config.Config, lg zerolog.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return NewWithClient(client, lg), nil
}

func NewWithClient(client *redis.Client, lg zerolog.Logger) *Queue {
	return &Queue{client: client, lg: lg.With().Str("adapter", "redis").Logger()}
}

func (q *Queue) Enqueue(ctx context.Context, topic string, msg *scheduler.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return q.client.LPush(ctx, topic, data).Err()
}

// Requeue pushes msg onto the popping end of the list.
func (q *Queue) Requeue(ctx context.Context, topic string, msg *scheduler.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return q.client.RPush(ctx, topic, data).Err()
}

// Dequeue blocks for up to timeout. An empty topic yields (nil, nil).
// A message that cannot be decoded is dropped and logged.
func (q *Queue) Dequeue(ctx context.Context, topic string, timeout time.Duration) (*scheduler.Message, error) {
	res, err := q.client.BRPop(ctx, timeout, topic).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	var msg scheduler.Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		q.lg.Error().Err(err).Str("topic", topic).Str("raw", res[1]).Msg("dropping undecodable message")
		return nil, nil
	}
	return &msg, nil
}

func (q *Queue) Depth(ctx context.Context, topic string) (int64, error) {
	return q.client.LLen(ctx, topic).Result()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
