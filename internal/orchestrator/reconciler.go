package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/eventhook"
	"github.com/mammothbox/mammothbox/internal/obs"
	"github.com/mammothbox/mammothbox/internal/queue"
)

// Reconciler closes the outbox gap from spec.md §4.8: a Job can commit
// to the catalog and then fail to enqueue. On a cron schedule it sweeps
// for queued jobs older than StaleAfter and re-enqueues them.
type Reconciler struct {
	store      catalog.Store
	backend    queue.Backend
	staleAfter time.Duration
	log        *zap.Logger
	events     *eventhook.Publisher

	mu      sync.Mutex
	cronJob *cron.Cron
	entryID cron.EntryID
	running bool
}

func NewReconciler(store catalog.Store, backend queue.Backend, staleAfter time.Duration, log *zap.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Reconciler{store: store, backend: backend, staleAfter: staleAfter, log: log, events: eventhook.NewNoop()}
}

// WithEvents attaches a lineage-event publisher; optional, defaults to
// a no-op publisher.
func (r *Reconciler) WithEvents(pub *eventhook.Publisher) *Reconciler {
	r.events = pub
	return r
}

// Start schedules the sweep per the given cron expression and returns
// immediately; the sweep itself runs on cron's own goroutine until Stop
// is called or ctx is canceled.
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	id, err := c.AddFunc(schedule, func() { r.sweep(ctx) })
	if err != nil {
		return err
	}
	r.cronJob = c
	r.entryID = id
	r.running = true
	c.Start()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cronJob.Stop()
	r.running = false
}

// sweep re-enqueues every job still in JobQueued whose created_at is
// older than staleAfter. It does not check the queue for an existing
// message, so a job that is still waiting in the queue, or waiting out a
// retry backoff, is enqueued again as well.
func (r *Reconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleAfter).Unix()
	jobs, err := r.store.StaleQueuedJobs(ctx, cutoff)
	if err != nil {
		r.log.Error("outbox sweep: query stale jobs failed", obs.Err(err))
		return
	}
	if len(jobs) == 0 {
		return
	}
	r.log.Info("outbox sweep: re-enqueueing stale jobs", obs.Int("count", len(jobs)))
	for _, j := range jobs {
		err := r.backend.Enqueue(ctx, queue.Message{
			JobID:      j.ID,
			JobType:    string(j.JobType),
			JobData:    j.JobData,
			MaxRetries: j.MaxRetries,
			CreatedAt:  j.CreatedAt,
		})
		if err != nil {
			r.log.Error("outbox sweep: re-enqueue failed", obs.String("job_id", j.ID), obs.Err(err))
			continue
		}
		obs.JobsEnqueued.Inc()
		r.events.Publish(eventhook.Event{Stage: "job_reenqueued", RequestID: j.RequestID, Detail: map[string]interface{}{"job_id": j.ID}})
	}
}
