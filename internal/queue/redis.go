package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key scheme, unchanged from the single-node design this backend
// distributes: a sorted set for priority ordering, a hash per job for
// metadata, and per-job processing/DLQ hash keys.
const (
	redisQueueKey      = "queue:jobs"
	redisProcessingKey = "queue:processing"
	redisDLQKey        = "queue:dlq"
	redisMetaKey       = "queue:meta"
)

type redisJobData struct {
	JobType     string    `json:"job_type"`
	JobData     []byte    `json:"job_data"`
	Priority    int       `json:"priority"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	CreatedAt   time.Time `json:"created_at"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// RedisBackend is the distributed Backend implementation: any number of
// worker processes can share one queue by pointing at the same Redis
// instance. Claim semantics are ZREM-based rather than BRPOPLPUSH since
// eligibility also depends on NextRetryAt, which a plain list pop can't
// express.
type RedisBackend struct {
	client     *redis.Client
	maxRetries int
	pollEvery  time.Duration
}

func NewRedisBackend(client *redis.Client, defaultMaxRetries int) *RedisBackend {
	return &RedisBackend{client: client, maxRetries: defaultMaxRetries, pollEvery: 100 * time.Millisecond}
}

func (b *RedisBackend) metaKey(jobID string) string { return fmt.Sprintf("%s:%s", redisMetaKey, jobID) }
func (b *RedisBackend) procKey(jobID string) string {
	return fmt.Sprintf("%s:%s", redisProcessingKey, jobID)
}
func (b *RedisBackend) dlqKey(jobID string) string { return fmt.Sprintf("%s:%s", redisDLQKey, jobID) }

func (b *RedisBackend) Enqueue(ctx context.Context, msg Message) error {
	if msg.MaxRetries == 0 {
		msg.MaxRetries = b.maxRetries
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	data := redisJobData{
		JobType: msg.JobType, JobData: msg.JobData, Priority: msg.Priority,
		RetryCount: msg.RetryCount, MaxRetries: msg.MaxRetries,
		CreatedAt: msg.CreatedAt, NextRetryAt: msg.NextRetryAt,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.metaKey(msg.JobID), "data", payload)
	// Score = -priority so ZRANGE (ascending) yields highest priority first.
	pipe.ZAdd(ctx, redisQueueKey, redis.Z{Score: -float64(msg.Priority), Member: msg.JobID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (b *RedisBackend) Dequeue(ctx context.Context, timeout time.Duration) (*Message, bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		msg, found, err := b.tryClaim(ctx)
		if err != nil || found {
			return msg, found, err
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if timeout <= 0 {
			return nil, false, nil
		}
		if time.Now().After(deadline) {
			return nil, false, nil
		}

		select {
		case <-time.After(b.pollEvery):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (b *RedisBackend) tryClaim(ctx context.Context) (*Message, bool, error) {
	ids, err := b.client.ZRange(ctx, redisQueueKey, 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("zrange: %w", err)
	}

	now := time.Now().UTC()
	for _, jobID := range ids {
		raw, err := b.client.HGet(ctx, b.metaKey(jobID), "data").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("hget meta: %w", err)
		}

		var data redisJobData
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			continue
		}
		if !data.NextRetryAt.IsZero() && data.NextRetryAt.After(now) {
			continue
		}

		// ZREM returns the number removed; only the caller that wins
		// the race (removed count == 1) claims the job.
		removed, err := b.client.ZRem(ctx, redisQueueKey, jobID).Result()
		if err != nil {
			return nil, false, fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			continue
		}

		b.client.HSet(ctx, b.procKey(jobID), "started_at", now.Format(time.RFC3339Nano))

		return &Message{
			JobID: jobID, JobType: data.JobType, JobData: data.JobData, Priority: data.Priority,
			RetryCount: data.RetryCount, MaxRetries: data.MaxRetries,
			CreatedAt: data.CreatedAt, NextRetryAt: data.NextRetryAt,
		}, true, nil
	}
	return nil, false, nil
}

func (b *RedisBackend) Ack(ctx context.Context, jobID string) error {
	if err := b.client.Del(ctx, b.procKey(jobID)).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

func (b *RedisBackend) Nack(ctx context.Context, jobID string, errMsg string) error {
	raw, err := b.client.HGet(ctx, b.metaKey(jobID), "data").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("hget meta: %w", err)
	}

	var data redisJobData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("unmarshal job data: %w", err)
	}

	maxRetries := data.MaxRetries
	if maxRetries == 0 {
		maxRetries = b.maxRetries
	}

	b.client.Del(ctx, b.procKey(jobID))

	if data.RetryCount < maxRetries {
		backoff := time.Duration(1<<uint(data.RetryCount)) * time.Second
		data.RetryCount++
		data.NextRetryAt = time.Now().UTC().Add(backoff)
		data.LastError = errMsg

		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal job data: %w", err)
		}

		pipe := b.client.TxPipeline()
		pipe.HSet(ctx, b.metaKey(jobID), "data", payload)
		pipe.ZAdd(ctx, redisQueueKey, redis.Z{Score: -float64(data.Priority), Member: jobID})
		_, err = pipe.Exec(ctx)
		return err
	}

	return b.moveToDLQ(ctx, jobID, data, errMsg)
}

// NackPermanent moves a claimed message straight to the DLQ, bypassing
// the retry budget entirely.
func (b *RedisBackend) NackPermanent(ctx context.Context, jobID string, errMsg string) error {
	raw, err := b.client.HGet(ctx, b.metaKey(jobID), "data").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("hget meta: %w", err)
	}

	var data redisJobData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("unmarshal job data: %w", err)
	}

	b.client.Del(ctx, b.procKey(jobID))
	return b.moveToDLQ(ctx, jobID, data, errMsg)
}

func (b *RedisBackend) moveToDLQ(ctx context.Context, jobID string, data redisJobData, errMsg string) error {
	data.LastError = errMsg
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}
	if err := b.client.HSet(ctx, b.dlqKey(jobID), map[string]interface{}{
		"data":      payload,
		"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return fmt.Errorf("move to dlq: %w", err)
	}
	return nil
}

func (b *RedisBackend) Size(ctx context.Context) (int64, error) {
	return b.client.ZCard(ctx, redisQueueKey).Result()
}

func (b *RedisBackend) DLQSize(ctx context.Context) (int64, error) {
	var cursor uint64
	var count int64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, redisDLQKey+":*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan dlq: %w", err)
		}
		count += int64(len(keys))
		if next == 0 {
			break
		}
		cursor = next
	}
	return count, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
