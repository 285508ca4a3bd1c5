// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKey is the list shared by every process of a deployment.
const redisKey = "genscene:jobs"

// Redis backs the queue with an RPUSH/BLPOP list, so queued work survives
// restarts and several daemons can share one queue.
type Redis struct {
	client *redis.Client
	closed atomic.Bool
}

// NewRedis connects to url (redis://...) and verifies the connection before
// returning.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.WriteTimeout = 3 * time.Second
	// BLPOP holds the connection for the wait duration; 0 disables the
	// client-side read deadline that would cut it short.
	opts.ReadTimeout = 0

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Redis{client: client}, nil
}

func (q *Redis) Enqueue(ctx context.Context, jobID string) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := q.client.RPush(ctx, redisKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context, wait time.Duration) (string, bool, error) {
	if q.closed.Load() {
		return "", false, ErrClosed
	}

	res, err := q.client.BLPop(ctx, wait, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		if q.closed.Load() {
			return "", false, ErrClosed
		}
		return "", false, fmt.Errorf("dequeue: %w", err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return "", false, fmt.Errorf("dequeue: unexpected reply %v", res)
	}
	return res[1], true, nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	n, err := q.client.LLen(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len: %w", err)
	}
	return int(n), nil
}

func (q *Redis) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.client.Close()
}
