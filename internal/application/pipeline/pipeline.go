// Package pipeline orchestrates the reconciliation flow: ingest →
// match → confidence → auto-apply or review queue, plus the feedback
// loop from resolutions back into learned patterns.
//
// Items are processed by a pool of stateless workers. Matching and
// routing run freely in parallel across tenants; within one tenant the
// invoice balance mutation and its paired ledger append are serialized
// through a per-tenant critical section on top of the storage layer's
// version checks. A failed write aborts the whole item; it lands on the
// exception list in its prior state, never partially applied.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/evenstad/reconcile-backend/internal/domain/learning"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/domain/reviewqueue"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/config"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// conflictRetries bounds how often a persistence conflict is retried with
// fresh reads before the item is surfaced as failed.
const conflictRetries = 3

// Pipeline wires the engines over shared storage.
type Pipeline struct {
	cfg     *config.Config
	repo    storage.Repository
	learner *learning.Engine
	queue   *reviewqueue.Service
	logger  *slog.Logger

	workers int

	// Per-tenant critical section for invoice-balance + ledger-append.
	tenantLocks map[string]*sync.Mutex
	locksMu     sync.Mutex
}

// New builds the pipeline and its review queue service.
func New(cfg *config.Config, repo storage.Repository, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 4
	}

	p := &Pipeline{
		cfg:         cfg,
		repo:        repo,
		learner:     learning.NewEngine(repo, repo),
		logger:      logger,
		workers:     workers,
		tenantLocks: make(map[string]*sync.Mutex),
	}
	p.queue = reviewqueue.NewService(repo, p, p.learner, repo, repo, logger)
	p.queue.SetRescorer(p)
	return p
}

// Queue exposes the review queue service to the API layer.
func (p *Pipeline) Queue() *reviewqueue.Service { return p.queue }

// Learner exposes the learning engine to the API layer.
func (p *Pipeline) Learner() *learning.Engine { return p.learner }

// tenantLock returns the mutex serializing a tenant's apply section.
func (p *Pipeline) tenantLock(tenantID string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	lock, ok := p.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		p.tenantLocks[tenantID] = lock
	}
	return lock
}

// JobKind tags a unit of ingestion work.
type JobKind string

const (
	JobTransaction JobKind = "transaction"
	JobInvoice     JobKind = "invoice"
)

// Job is one item from the upstream ingestion queue.
type Job struct {
	Kind        JobKind
	Transaction *model.Transaction
	Invoice     *model.Invoice
}

// Run consumes jobs with the configured worker pool until the channel
// closes or the context is cancelled. Per-item failures are logged and
// recorded as exceptions; they never stop the pool.
func (p *Pipeline) Run(ctx context.Context, jobs <-chan Job) {
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					p.handle(ctx, job)
				}
			}
		}(w)
	}
	wg.Wait()
}

func (p *Pipeline) handle(ctx context.Context, job Job) {
	var err error
	switch job.Kind {
	case JobTransaction:
		err = p.IngestTransaction(ctx, job.Transaction)
	case JobInvoice:
		err = p.IngestInvoice(ctx, job.Invoice)
	}
	if err != nil {
		p.logger.Error("job failed", "kind", string(job.Kind), "error", err)
	}
}

func (p *Pipeline) recordException(tenantID, subjectID string, subjectType model.SubjectType, reason string) {
	e := &model.ExceptionItem{
		ID:          newID(),
		TenantID:    tenantID,
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Reason:      reason,
		OccurredAt:  now(),
	}
	if err := p.repo.AddException(e); err != nil {
		p.logger.Error("exception not recorded", "subject", subjectID, "error", err)
	}
}
