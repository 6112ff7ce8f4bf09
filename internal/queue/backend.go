package queue

import (
	"context"
	"time"
)

// Backend is the contract shared by the in-process and Redis-backed
// implementations (SPEC_FULL.md §4.6). Dequeue serves the highest-priority
// ready message first; retries become visible only once NextRetryAt has
// elapsed. MemoryBackend breaks priority ties by enqueue order (a nacked
// message counts as newly enqueued); RedisBackend scores by priority
// alone, so equal-priority messages come out in job-ID order, not
// enqueue order.
type Backend interface {
	Enqueue(ctx context.Context, msg Message) error

	// Dequeue blocks up to timeout for a ready message. A zero timeout
	// polls once and returns immediately if nothing is ready.
	Dequeue(ctx context.Context, timeout time.Duration) (*Message, bool, error)

	Ack(ctx context.Context, jobID string) error

	// Nack records a failure. If the message's retry budget remains it
	// is rescheduled with exponential backoff (2^retryCount seconds,
	// computed pre-increment); otherwise it is moved to the DLQ.
	Nack(ctx context.Context, jobID string, errMsg string) error

	// NackPermanent records a failure that must never be retried,
	// moving the message straight to the DLQ regardless of retry budget
	// (SPEC_FULL.md §7: permanent processor errors skip retry entirely).
	NackPermanent(ctx context.Context, jobID string, errMsg string) error

	Size(ctx context.Context) (int64, error)
	DLQSize(ctx context.Context) (int64, error)
	Close() error
}
