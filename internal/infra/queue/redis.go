package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"match-mailer/internal/domain"
)

// RedisAnnouncementQueue реализует очередь анонсов на базе Redis lists.
type RedisAnnouncementQueue struct {
	client *redis.Client
	key    string
}

// NewRedisAnnouncementQueue создаёт очередь по указанному ключу.
func NewRedisAnnouncementQueue(client *redis.Client, key string) *RedisAnnouncementQueue {
	return &RedisAnnouncementQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisAnnouncementQueue) Enqueue(ctx context.Context, job domain.AnnouncementJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Подтверждение у Redis-списка
// отсутствует, поэтому ack ничего не делает.
func (q *RedisAnnouncementQueue) Receive(ctx context.Context) (domain.AnnouncementJob, domain.AnnouncementAckFunc, error) {
	noop := func(bool) error { return nil }
	for {
		if err := ctx.Err(); err != nil {
			return domain.AnnouncementJob{}, noop, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.AnnouncementJob{}, noop, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.AnnouncementJob{}, noop, err
		}
		if len(res) != 2 {
			return domain.AnnouncementJob{}, noop, errors.New("redis queue: unexpected response")
		}
		var job domain.AnnouncementJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.AnnouncementJob{}, noop, fmt.Errorf("decode job: %w", err)
		}
		return job, noop, nil
	}
}
