// Copyright 2025 James Ross
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/breaker"
	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/config"
	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/obs"
	"github.com/mammothbox/mammothbox/internal/processor"
	"github.com/mammothbox/mammothbox/internal/queue"
)

// Supervisor runs a fixed pool of worker goroutines dequeuing from one
// queue.Backend and driving jobs through the catalog + processor
// pipeline, per spec.md §4.7.
type Supervisor struct {
	cfg      *config.Config
	backend  queue.Backend
	store    catalog.Store
	registry processor.Registry
	log      *zap.Logger
	cb       *breaker.CircuitBreaker

	wg sync.WaitGroup
}

func New(cfg *config.Config, backend queue.Backend, store catalog.Store, registry processor.Registry, log *zap.Logger) *Supervisor {
	cb := breaker.New(
		cfg.CircuitBreaker.Window,
		cfg.CircuitBreaker.CooldownPeriod,
		cfg.CircuitBreaker.FailureThreshold,
		cfg.CircuitBreaker.MinSamples,
	)
	return &Supervisor{cfg: cfg, backend: backend, store: store, registry: registry, log: log, cb: cb}
}

// Preload eagerly constructs/warms expensive processor singletons so the
// first job through each worker doesn't pay first-call latency. Failure
// to preload is logged, not fatal - processors fall back to lazy init.
func (s *Supervisor) Preload(ctx context.Context, warm func(ctx context.Context) error) {
	if warm == nil {
		return
	}
	if err := warm(ctx); err != nil {
		s.log.Warn("preload failed, continuing with lazy init", obs.Err(err))
	}
}

// Run starts cfg.Worker.Count worker goroutines and blocks until ctx is
// canceled and every worker has returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for i := 0; i < s.cfg.Worker.Count; i++ {
		s.wg.Add(1)
		id := fmt.Sprintf("worker-%d", i)
		go func(workerID string) {
			defer s.wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			s.runOne(ctx, workerID)
		}(id)
	}

	go s.watchBreakerState(ctx)

	s.wg.Wait()
	return nil
}

func (s *Supervisor) watchBreakerState(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch s.cb.State() {
			case breaker.Closed:
				obs.CircuitBreakerState.Set(0)
			case breaker.HalfOpen:
				obs.CircuitBreakerState.Set(1)
			case breaker.Open:
				obs.CircuitBreakerState.Set(2)
			}
		}
	}
}

func (s *Supervisor) runOne(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		if !s.cb.Allow() {
			time.Sleep(s.cfg.Worker.Backoff.Base)
			continue
		}

		_, dqSpan := obs.StartDequeueSpan(ctx)
		msg, ok, err := s.backend.Dequeue(ctx, s.cfg.Worker.DequeueWait)
		dqSpan.End()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("dequeue error", obs.Err(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if !ok {
			continue // timeout; nothing ready
		}

		obs.JobsConsumed.Inc()
		start := time.Now()
		success := s.processMessage(ctx, workerID, *msg)
		obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

		prev := s.cb.State()
		s.cb.Record(success)
		if curr := s.cb.State(); prev != curr && curr == breaker.Open {
			obs.CircuitBreakerTrips.Inc()
		}
	}
}

// processMessage implements the per-job loop body from spec.md §4.7
// steps 2-6: load, mark processing, resolve + invoke the processor,
// then commit the terminal state and ack/nack the queue message.
func (s *Supervisor) processMessage(ctx context.Context, workerID string, msg queue.Message) bool {
	ctx, span := obs.ContextWithJobSpan(ctx, msg)
	defer span.End()
	obs.AddSpanAttributes(ctx, obs.KeyValue("worker.id", workerID))

	var job *catalog.Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		j, err := tx.GetJob(ctx, msg.JobID)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		if k, ok := errs.Of(err); ok && k == errs.KindNotFound {
			// Stale message: the job row is gone. Ack and move on.
			s.log.Warn("job not found, acking stale message", obs.String("job_id", msg.JobID))
			_ = s.backend.Ack(ctx, msg.JobID)
			return true
		}
		s.log.Error("load job failed", obs.Err(err))
		_ = s.backend.Nack(ctx, msg.JobID, err.Error())
		return false
	}

	if err := s.markProcessing(ctx, job); err != nil {
		s.log.Error("mark processing failed", obs.Err(err))
		_ = s.backend.Nack(ctx, msg.JobID, err.Error())
		return false
	}

	proc, found := s.registry.Resolve(job.JobType)
	if !found {
		procErr := fmt.Errorf("no processor registered for job_type %q", job.JobType)
		s.failJob(ctx, job, procErr)
		_ = s.backend.Ack(ctx, msg.JobID)
		return false
	}

	procErr := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		return proc.Process(ctx, job, tx)
	})

	if procErr == nil {
		obs.SetSpanSuccess(ctx)
		s.completeJob(ctx, job.ID)
		_ = s.backend.Ack(ctx, msg.JobID)
		obs.JobsCompleted.Inc()
		s.log.Info("job completed", obs.String("id", job.ID), obs.String("worker_id", workerID))
		return true
	}

	obs.RecordError(ctx, procErr)
	obs.JobsFailed.Inc()
	if errs.Retryable(procErr) {
		_ = s.backend.Nack(ctx, msg.JobID, procErr.Error())
		s.reconcileAfterNack(ctx, msg.JobID, procErr.Error())
	} else {
		_ = s.backend.NackPermanent(ctx, msg.JobID, procErr.Error())
		s.failJob(ctx, job, procErr)
	}
	s.log.Warn("job failed", obs.String("id", job.ID), obs.Err(procErr), obs.String("worker_id", workerID))
	return false
}

func (s *Supervisor) markProcessing(ctx context.Context, job *catalog.Job) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		now := time.Now().UTC()
		job.Status = catalog.JobProcessing
		job.StartedAt = &now
		return tx.UpdateJob(ctx, job)
	})
}

func (s *Supervisor) completeJob(ctx context.Context, jobID string) {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		j, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		j.Status = catalog.JobDone
		j.CompletedAt = &now
		return tx.UpdateJob(ctx, j)
	})
	if err != nil {
		s.log.Error("commit job completion failed", obs.Err(err))
	}
}

func (s *Supervisor) failJob(ctx context.Context, job *catalog.Job, cause error) {
	_ = s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		job.Status = catalog.JobFailed
		job.DeadLetter = true
		job.ErrorMessage = cause.Error()
		return tx.UpdateJob(ctx, job)
	})
	obs.JobsDeadLettered.Inc()
}

// reconcileAfterNack mirrors the queue's retry-or-DLQ decision back onto
// the catalog Job row, per spec.md §4.7 step 6.
func (s *Supervisor) reconcileAfterNack(ctx context.Context, jobID, errMsg string) {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		j, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		j.ErrorMessage = errMsg
		if j.RetryCount >= j.MaxRetries {
			j.Status = catalog.JobFailed
			j.DeadLetter = true
			obs.JobsDeadLettered.Inc()
		} else {
			backoff := time.Duration(1<<uint(j.RetryCount)) * time.Second
			j.RetryCount++
			j.Status = catalog.JobQueued
			nextRetry := time.Now().UTC().Add(backoff)
			j.NextRetryAt = &nextRetry
			obs.JobsRetried.Inc()
		}
		return tx.UpdateJob(ctx, j)
	})
	if err != nil {
		s.log.Error("reconcile after nack failed", obs.Err(err))
	}
}
