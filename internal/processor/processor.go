// Package processor implements C9: the job_type-specific handlers the
// worker supervisor (C7) invokes once it has set a Job to processing.
package processor

import (
	"context"

	"github.com/mammothbox/mammothbox/internal/catalog"
)

// Processor handles one job_type's business logic. It receives the raw
// job payload and a transaction-scoped catalog handle so its terminal
// writes (asset/schema/lineage updates) commit atomically with the
// job-status transition the worker performs around it.
type Processor interface {
	Process(ctx context.Context, job *catalog.Job, tx catalog.Tx) error
}

// Registry resolves a job's JobType to the Processor that handles it.
type Registry map[catalog.JobType]Processor

func (r Registry) Resolve(jt catalog.JobType) (Processor, bool) {
	p, ok := r[jt]
	return p, ok
}
