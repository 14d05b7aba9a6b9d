package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobq/pkg/job"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

const tailPollInterval = 50 * time.Millisecond

// emptyScript drops every pending id of KEYS[1] and the record stored at
// ARGV[1]..id, then deletes the list. Returns the number of ids dropped.
var emptyScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
	redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

func (b *Backend) Push(ctx context.Context, name, jobID string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.queuesKey(), name)
		pipe.RPush(ctx, b.queueKey(name), jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("jobq/redis: push: %w", err)
	}
	return nil
}

func (b *Backend) Pop(ctx context.Context, queues []string) (string, string, error) {
	for _, name := range queues {
		jobID, err := b.client.LPop(ctx, b.queueKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("jobq/redis: pop: %w", err)
		}
		return name, jobID, nil
	}
	return "", "", queue.ErrEmpty
}

func (b *Backend) BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (string, string, error) {
	keys := make([]string, len(queues))
	names := make(map[string]string, len(queues))
	for i, name := range queues {
		keys[i] = b.queueKey(name)
		names[keys[i]] = name
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		wait := b.blockSlice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return "", "", queue.ErrEmpty
			}
			// BLPOP counts in whole seconds, the tail is polled.
			if remaining < time.Second {
				return b.pollUntil(ctx, queues, deadline)
			}
			wait = min(wait, remaining.Truncate(time.Second))
		}

		res, err := b.client.BLPop(ctx, wait, keys...).Result()
		switch {
		case err == nil && len(res) == 2:
			return names[res[0]], res[1], nil
		case err == nil, errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return "", "", ctx.Err()
		default:
			return "", "", fmt.Errorf("jobq/redis: blocking pop: %w", err)
		}
	}
}

// pollUntil retries a non-blocking pop every tailPollInterval until deadline.
func (b *Backend) pollUntil(ctx context.Context, queues []string, deadline time.Time) (string, string, error) {
	for {
		name, jobID, err := b.Pop(ctx, queues)
		if !errors.Is(err, queue.ErrEmpty) {
			return name, jobID, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", "", queue.ErrEmpty
		}
		t := time.NewTimer(min(remaining, tailPollInterval))
		select {
		case <-ctx.Done():
			t.Stop()
			return "", "", ctx.Err()
		case <-t.C:
		}
	}
}

func (b *Backend) Pending(ctx context.Context, name string) ([]string, error) {
	ids, err := b.client.LRange(ctx, b.queueKey(name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: pending: %w", err)
	}
	return ids, nil
}

func (b *Backend) Len(ctx context.Context, name string) (int, error) {
	n, err := b.client.LLen(ctx, b.queueKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("jobq/redis: len: %w", err)
	}
	return int(n), nil
}

func (b *Backend) Remove(ctx context.Context, name, jobID string) error {
	n, err := b.client.LRem(ctx, b.queueKey(name), 1, jobID).Result()
	if err != nil {
		return fmt.Errorf("jobq/redis: remove: %w", err)
	}
	if n == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (b *Backend) Empty(ctx context.Context, name string) (int, error) {
	n, err := emptyScript.Run(ctx, b.client, []string{b.queueKey(name)}, b.jobKeyPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("jobq/redis: empty: %w", err)
	}
	return n, nil
}

func (b *Backend) AddQueue(ctx context.Context, name string) error {
	if err := b.client.SAdd(ctx, b.queuesKey(), name).Err(); err != nil {
		return fmt.Errorf("jobq/redis: add queue: %w", err)
	}
	return nil
}

func (b *Backend) Queues(ctx context.Context) ([]string, error) {
	names, err := b.client.SMembers(ctx, b.queuesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("jobq/redis: queues: %w", err)
	}
	return names, nil
}

func (b *Backend) RemoveQueue(ctx context.Context, name string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, b.queuesKey(), name)
		pipe.Del(ctx, b.queueKey(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("jobq/redis: remove queue: %w", err)
	}
	return nil
}
