package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"votegate/internal/gate/models"
)

// RedisQueue keeps job IDs in a sorted set scored by NotBefore and each job
// body in its own key that expires with the job, so plaintext tokens never
// outlive their delivery window.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, now: time.Now}
}

func (q *RedisQueue) jobKey(id string) string {
	return q.key + ":job:" + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, job models.SMSJob) error {
	ttl := job.ExpiresAt.Sub(q.now())
	if ttl <= 0 {
		return nil
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal sms job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), body, ttl)
		pipe.ZAdd(ctx, q.key, redis.Z{Score: float64(job.NotBefore.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue sms job: %w", err)
	}
	return nil
}

// Dequeue claims the earliest due job. ZREM decides the race between
// workers: only the one that removes the member owns the job. A member whose
// body already expired is dropped and the next one is tried.
func (q *RedisQueue) Dequeue(ctx context.Context, now time.Time) (models.SMSJob, bool, error) {
	for {
		ids, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: 1,
		}).Result()
		if err != nil {
			return models.SMSJob{}, false, fmt.Errorf("scan sms queue: %w", err)
		}
		if len(ids) == 0 {
			return models.SMSJob{}, false, nil
		}

		removed, err := q.client.ZRem(ctx, q.key, ids[0]).Result()
		if err != nil {
			return models.SMSJob{}, false, fmt.Errorf("claim sms job: %w", err)
		}
		if removed == 0 {
			continue
		}

		body, err := q.client.GetDel(ctx, q.jobKey(ids[0])).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return models.SMSJob{}, false, fmt.Errorf("load sms job: %w", err)
		}
		var job models.SMSJob
		if err := json.Unmarshal(body, &job); err != nil {
			return models.SMSJob{}, false, fmt.Errorf("decode sms job: %w", err)
		}
		return job, true, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count sms queue: %w", err)
	}
	return int(n), nil
}
