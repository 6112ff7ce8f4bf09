package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	msg Message
	seq uint64
}

// MemoryBackend is an in-process Backend: a priority-ordered holding area
// protected by a mutex, with no busy-waiting on Dequeue - callers block on
// a notification channel until a message is enqueued, a retry becomes
// ready, or the timeout/context elapses.
type MemoryBackend struct {
	mu         sync.Mutex
	notify     chan struct{}
	queued     map[string]*memoryEntry
	processing map[string]*memoryEntry
	dlq        map[string]*memoryEntry
	maxRetries int
	seq        uint64
	closed     bool
}

func NewMemoryBackend(defaultMaxRetries int) *MemoryBackend {
	return &MemoryBackend{
		notify:     make(chan struct{}),
		queued:     make(map[string]*memoryEntry),
		processing: make(map[string]*memoryEntry),
		dlq:        make(map[string]*memoryEntry),
		maxRetries: defaultMaxRetries,
	}
}

// wake closes and replaces the notify channel, releasing every Dequeue
// currently blocked on it. Caller must hold b.mu.
func (b *MemoryBackend) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *MemoryBackend) Enqueue(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("queue is closed")
	}
	if msg.MaxRetries == 0 {
		msg.MaxRetries = b.maxRetries
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	b.seq++
	b.queued[msg.JobID] = &memoryEntry{msg: msg, seq: b.seq}
	b.wake()
	return nil
}

// pickReady finds the highest-priority ready entry (NextRetryAt elapsed,
// then highest Priority, then earliest seq). Caller must hold b.mu.
func (b *MemoryBackend) pickReady() *memoryEntry {
	now := time.Now().UTC()
	var best *memoryEntry
	for _, e := range b.queued {
		if !e.msg.NextRetryAt.IsZero() && e.msg.NextRetryAt.After(now) {
			continue
		}
		if best == nil || e.msg.Priority > best.msg.Priority ||
			(e.msg.Priority == best.msg.Priority && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

// nextRetryDeadline returns the earliest NextRetryAt among not-yet-ready
// entries, so Dequeue can wake up exactly when a delayed retry becomes
// eligible instead of only on the next Enqueue/Nack. Caller must hold b.mu.
func (b *MemoryBackend) nextRetryDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, e := range b.queued {
		if e.msg.NextRetryAt.IsZero() {
			continue
		}
		if !found || e.msg.NextRetryAt.Before(earliest) {
			earliest = e.msg.NextRetryAt
			found = true
		}
	}
	return earliest, found
}

func (b *MemoryBackend) Dequeue(ctx context.Context, timeout time.Duration) (*Message, bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, false, fmt.Errorf("queue is closed")
		}
		if e := b.pickReady(); e != nil {
			delete(b.queued, e.msg.JobID)
			msg := e.msg
			b.processing[msg.JobID] = e
			b.mu.Unlock()
			return &msg, true, nil
		}
		if ctx.Err() != nil {
			b.mu.Unlock()
			return nil, false, ctx.Err()
		}
		if timeout <= 0 {
			b.mu.Unlock()
			return nil, false, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.mu.Unlock()
			return nil, false, nil
		}

		waitFor := remaining
		if retryAt, ok := b.nextRetryDeadline(); ok {
			if untilRetry := time.Until(retryAt); untilRetry > 0 && untilRetry < waitFor {
				waitFor = untilRetry
			}
		}
		ch := b.notify
		b.mu.Unlock()

		timer := time.NewTimer(waitFor)
		select {
		case <-ch:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}
}

func (b *MemoryBackend) Ack(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.processing, jobID)
	return nil
}

func (b *MemoryBackend) Nack(ctx context.Context, jobID string, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.processing[jobID]
	if !ok {
		return nil
	}
	delete(b.processing, jobID)

	maxRetries := e.msg.MaxRetries
	if maxRetries == 0 {
		maxRetries = b.maxRetries
	}

	if e.msg.RetryCount < maxRetries {
		backoff := time.Duration(1<<uint(e.msg.RetryCount)) * time.Second
		e.msg.RetryCount++
		e.msg.NextRetryAt = time.Now().UTC().Add(backoff)
		b.seq++
		e.seq = b.seq
		b.queued[jobID] = e
		b.wake()
	} else {
		b.dlq[jobID] = e
	}
	return nil
}

// NackPermanent moves a processing entry straight to the DLQ, bypassing
// the retry budget entirely.
func (b *MemoryBackend) NackPermanent(ctx context.Context, jobID string, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.processing[jobID]
	if !ok {
		return nil
	}
	delete(b.processing, jobID)
	b.dlq[jobID] = e
	return nil
}

func (b *MemoryBackend) Size(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queued)), nil
}

func (b *MemoryBackend) DLQSize(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.dlq)), nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.wake()
	return nil
}
