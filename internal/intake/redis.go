package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlockTimeout = 5 * time.Second

// RedisQueue pops requests from one list and pushes results onto another.
type RedisQueue struct {
	client       *redis.Client
	input        string
	output       string
	blockTimeout time.Duration
	logger       *slog.Logger
}

// NewRedisQueue creates a queue on client. The client is owned by the
// queue and closed by Close.
func NewRedisQueue(client *redis.Client, input, output string) *RedisQueue {
	return &RedisQueue{
		client:       client,
		input:        input,
		output:       output,
		blockTimeout: defaultBlockTimeout,
		logger:       slog.With("component", "intake", "intake", "redis"),
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Receive blocks on the input list. Malformed payloads are logged and
// skipped.
func (q *RedisQueue) Receive(ctx context.Context) (*Request, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := q.client.BLPop(ctx, q.blockTimeout, q.input).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to pop from %s: %w", q.input, err)
		}

		// res[0] is the list name, res[1] the payload
		req, err := DecodeRequest([]byte(res[1]))
		if err != nil {
			q.logger.Warn("Skipping malformed request", "error", err)
			continue
		}
		return req, nil
	}
}

// Publish pushes result onto the output list.
func (q *RedisQueue) Publish(ctx context.Context, result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.output, data).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", q.output, err)
	}
	return nil
}

// Ready implements health.ReadinessChecker.
func (q *RedisQueue) Ready(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
