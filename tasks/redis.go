package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/util"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const popTimeout = time.Second

// RedisQueue keeps tasks in a Redis list so several server processes can
// share one broker. Producers LPUSH, workers BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
	log    *zap.Logger
}

func NewRedisQueue(cfg *util.RedisConfig) (*RedisQueue, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = util.Name + ":tasks"
	}
	log := logging.WithComponent("tasks")
	log.Info("Redis task broker connected", zap.String("key", key))
	return &RedisQueue{client: client, key: key, log: log}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		res, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return Task{}, ErrQueueClosed
		case err != nil:
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("popping task: %w", err)
		}
		// BRPOP answers [key, value]
		if len(res) != 2 {
			continue
		}
		t, err := Decode([]byte(res[1]))
		if err != nil {
			q.log.Warn("Dropping undecodable task", zap.Error(err))
			continue
		}
		return t, nil
	}
}

// Len reports the number of waiting tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
