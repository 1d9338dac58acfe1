package reviewqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evenstad/reconcile-backend/internal/domain/learning"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// Scope selects which pending items a correction fans out to.
type Scope string

const (
	ScopeVendor        Scope = "vendor"
	ScopeDescription   Scope = "description"
	ScopeAmountBracket Scope = "amount_bracket"
)

// matches reports whether a pending item falls inside the chosen
// similarity scope of the resolved item.
func (sc Scope) matches(resolved, candidate *model.ReviewQueueItem) bool {
	switch sc {
	case ScopeVendor:
		return candidate.SubjectVendorID == resolved.SubjectVendorID
	case ScopeDescription:
		return learning.Keyword(candidate.SubjectDescription) == learning.Keyword(resolved.SubjectDescription)
	case ScopeAmountBracket:
		return learning.AmountBracket(candidate.SubjectAmount) == learning.AmountBracket(resolved.SubjectAmount)
	}
	return false
}

// fanOut applies a correction to every currently-pending item in scope.
// Each target is an independent idempotent operation over a bounded
// worker pool; one failure never rolls back the others. The caller gets
// applied and failed counts.
func (s *Service) fanOut(ctx context.Context, resolved *model.ReviewQueueItem, req ResolveRequest) (applied, failed int, errs []string) {
	pending, err := s.store.ListPending(resolved.TenantID)
	if err != nil {
		return 0, 0, []string{err.Error()}
	}

	targets := make([]model.ReviewQueueItem, 0, len(pending))
	for _, item := range pending {
		if item.ID == resolved.ID {
			continue
		}
		if req.SimilarityScope.matches(resolved, &item) {
			targets = append(targets, item)
		}
	}
	if len(targets) == 0 {
		return 0, 0, nil
	}

	action := model.PatternAction{Account: req.Account, VATCode: req.VATCode}

	type result struct {
		ok  bool
		err error
	}
	jobs := make(chan model.ReviewQueueItem)
	results := make(chan result, len(targets))

	var wg sync.WaitGroup
	for w := 0; w < s.fanOutWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				err := s.resolveBatchDerived(ctx, item, action, req.Actor)
				results <- result{ok: err == nil, err: err}
			}
		}()
	}
	for _, t := range targets {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
	close(results)

	for r := range results {
		if r.ok {
			applied++
		} else {
			failed++
			errs = append(errs, r.err.Error())
		}
	}
	s.logger.Info("fan-out complete",
		"source_item", resolved.ID, "scope", string(req.SimilarityScope),
		"applied", applied, "failed", failed)
	return applied, failed, errs
}

// resolveBatchDerived closes one fan-out target with the shared
// correction, marked batch-derived in both the item and the audit log.
func (s *Service) resolveBatchDerived(ctx context.Context, item model.ReviewQueueItem, action model.PatternAction, actor string) error {
	res := model.Resolution{
		Decision:     model.DecisionCorrected,
		Account:      action.Account,
		VATCode:      action.VATCode,
		Actor:        actor,
		BatchDerived: true,
		ResolvedAt:   time.Now(),
	}
	prior := item.Status
	if err := s.store.ResolveItem(item.ID, item.Version, res); err != nil {
		return err
	}
	item.Status = model.ReviewResolved
	item.Version++
	if err := s.poster.ApplyCorrected(ctx, &item, action); err != nil {
		// The target keeps its prior state; the failure counts against
		// the fan-out and surfaces on the exception list.
		s.revertResolution(&item, prior, err)
		return err
	}

	event := model.DecisionEvent{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		TenantID:    item.TenantID,
		SubjectType: item.SubjectType,
		SubjectID:   item.SubjectID,
		Decision:    "batch_resolved",
		Confidence:  item.Suggestion.Confidence,
		Signals:     item.Suggestion.Signals,
		Actor:       actor,
	}
	if err := s.decisions.LogDecision(event); err != nil {
		s.logger.Error("decision log append failed", "subject", item.SubjectID, "error", err)
	}
	return nil
}
