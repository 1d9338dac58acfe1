package pipeline

import (
	"context"
	"fmt"

	"github.com/evenstad/reconcile-backend/internal/domain/confidence"
	"github.com/evenstad/reconcile-backend/internal/domain/ledger"
	"github.com/evenstad/reconcile-backend/internal/domain/learning"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// IngestInvoice validates, persists and classifies one vendor invoice.
func (p *Pipeline) IngestInvoice(ctx context.Context, inv *model.Invoice) error {
	if err := validateInvoice(inv); err != nil {
		return err
	}
	if inv.ID == "" {
		inv.ID = newID()
	}
	// A due date already behind us means the invoice arrives overdue.
	inv.Status = model.InvoiceOpen
	if inv.DueDate.Before(now()) {
		inv.Status = model.InvoiceOverdue
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	inv.CreatedAt = now()
	if err := p.repo.SaveInvoice(inv); err != nil {
		return fmt.Errorf("save invoice: %w", err)
	}
	return p.ProcessInvoice(ctx, inv)
}

// ProcessInvoice proposes the expense posting for a new invoice. A learned
// pattern supplies account and VAT code; without one the tenant's fallback
// account is proposed and the conservative ceiling keeps it in review.
func (p *Pipeline) ProcessInvoice(ctx context.Context, inv *model.Invoice) error {
	tc := p.cfg.Tenant(inv.TenantID)

	pattern, err := p.learner.FindApplicable(inv.TenantID, inv.VendorID, inv.Description, inv.AmountDue)
	if err != nil {
		p.logger.Warn("pattern lookup failed", "invoice", inv.ID, "error", err)
	}

	raw := classificationRaw(inv.Description)
	engine := confidence.NewEngine(confidence.Config{Threshold: tc.ConfidenceThreshold})
	conf := engine.Score(raw, model.MatchSignals{}, pattern)

	account, vatCode := tc.FallbackAccount, ""
	if pattern != nil {
		account, vatCode = pattern.Action.Account, pattern.Action.VATCode
	}

	sugg := model.Suggestion{
		ID:              newID(),
		TenantID:        inv.TenantID,
		SubjectID:       inv.ID,
		SubjectType:     model.SubjectInvoice,
		ProposedAccount: account,
		ProposedVATCode: vatCode,
		Confidence:      conf,
		Reasoning:       confidence.Reasoning(model.MatchSignals{}, pattern),
		CreatedAt:       now(),
	}
	if pattern != nil {
		sugg.PatternID = pattern.ID
	}
	if err := p.repo.SaveSuggestion(&sugg); err != nil {
		return fmt.Errorf("save suggestion: %w", err)
	}

	if engine.Decide(sugg) == confidence.RouteAutoApply {
		action := model.PatternAction{Account: account, VATCode: vatCode}
		if err := p.postExpense(inv.TenantID, tc.PayableAccount, inv.AmountDue, action, model.SourceSuggestion, sugg.ID); err != nil {
			p.recordException(inv.TenantID, inv.ID, model.SubjectInvoice, err.Error())
			p.logDecision(inv.TenantID, model.SubjectInvoice, inv.ID, "apply_failed", conf, model.MatchSignals{}, "system")
			return err
		}
		if pattern != nil {
			if _, err := p.learner.MarkApplied(pattern.ID); err != nil {
				p.logger.Warn("pattern application not counted", "pattern", pattern.ID, "error", err)
			}
		}
		p.logDecision(inv.TenantID, model.SubjectInvoice, inv.ID, "auto_applied", conf, model.MatchSignals{}, "system")
		return nil
	}

	p.logDecision(inv.TenantID, model.SubjectInvoice, inv.ID, "queued", conf, model.MatchSignals{}, "system")
	_, err = p.queue.Enqueue(sugg, tc.Priority(inv.AmountDue), inv.DueDate, inv.VendorID, inv.Description, inv.AmountDue)
	return err
}

// classificationRaw is the base signal strength for an invoice with no
// match candidate: a description with a usable keyword scores higher than
// an opaque one. Either way it stays under the auto-apply threshold until
// a pattern vouches for it.
func classificationRaw(description string) float64 {
	if learning.Keyword(description) != "" {
		return 70
	}
	return 50
}

// postExpense posts the expense entry for an invoice classification under
// the tenant lock. The credit leg hits the payable account; bank
// settlement arrives later through transaction matching.
func (p *Pipeline) postExpense(tenantID, payableAccount string, amount int64, action model.PatternAction, source model.LedgerSource, sourceID string) error {
	lock := p.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	entry := ledger.Expense(tenantID, action.Account, action.VATCode, payableAccount, abs(amount), source, sourceID)
	return ledger.Post(p.repo, entry)
}

// ApplyApproved commits an approved review item exactly as suggested.
func (p *Pipeline) ApplyApproved(ctx context.Context, item *model.ReviewQueueItem) error {
	tc := p.cfg.Tenant(item.TenantID)

	switch item.SubjectType {
	case model.SubjectTransaction:
		sugg := item.Suggestion
		if sugg.Candidate == nil {
			return &model.PolicyViolation{Op: "apply approval", Reason: "suggestion carries no match candidate"}
		}
		tx, err := p.repo.GetTransaction(item.TenantID, item.SubjectID)
		if err != nil {
			return err
		}
		if tx == nil {
			return &model.PolicyViolation{Op: "apply approval", Reason: "transaction not found"}
		}
		return p.applyCandidate(ctx, tx, &sugg, *sugg.Candidate, tc)

	case model.SubjectInvoice:
		action := model.PatternAction{
			Account: item.Suggestion.ProposedAccount,
			VATCode: item.Suggestion.ProposedVATCode,
		}
		return p.postExpense(item.TenantID, tc.PayableAccount, item.SubjectAmount, action, model.SourceSuggestion, item.Suggestion.ID)
	}
	return &model.ValidationError{Field: "subject_type", Reason: "unknown subject type"}
}

// ApplyCorrected commits a corrected review item with the reviewer's
// account and VAT code in place of the suggested ones.
func (p *Pipeline) ApplyCorrected(ctx context.Context, item *model.ReviewQueueItem, action model.PatternAction) error {
	tc := p.cfg.Tenant(item.TenantID)

	switch item.SubjectType {
	case model.SubjectTransaction:
		sugg := item.Suggestion
		if sugg.Candidate == nil {
			return &model.PolicyViolation{Op: "apply correction", Reason: "suggestion carries no match candidate"}
		}
		sugg.ProposedAccount = action.Account
		sugg.ProposedVATCode = action.VATCode
		tx, err := p.repo.GetTransaction(item.TenantID, item.SubjectID)
		if err != nil {
			return err
		}
		if tx == nil {
			return &model.PolicyViolation{Op: "apply correction", Reason: "transaction not found"}
		}
		return p.applyCandidate(ctx, tx, &sugg, *sugg.Candidate, tc)

	case model.SubjectInvoice:
		return p.postExpense(item.TenantID, tc.PayableAccount, item.SubjectAmount, action, model.SourceManual, item.ID)
	}
	return &model.ValidationError{Field: "subject_type", Reason: "unknown subject type"}
}

// RescorePending refreshes pending suggestions whose trigger matches a
// changed pattern, across every tenant in the pattern's scope. Best
// effort: a failed item is logged and skipped.
func (p *Pipeline) RescorePending(ctx context.Context, pattern *model.LearnedPattern) {
	sig := learning.SignatureKey(pattern.Trigger)

	for _, tenantID := range pattern.Scope {
		if ctx.Err() != nil {
			return
		}
		pending, err := p.repo.ListPending(tenantID)
		if err != nil {
			p.logger.Warn("rescore listing failed", "tenant", tenantID, "error", err)
			continue
		}
		tc := p.cfg.Tenant(tenantID)
		engine := confidence.NewEngine(confidence.Config{Threshold: tc.ConfidenceThreshold})

		for i := range pending {
			item := &pending[i]
			trigger := learning.NewTrigger(item.SubjectVendorID, item.SubjectDescription, item.SubjectAmount)
			if learning.SignatureKey(trigger) != sig {
				continue
			}

			raw := classificationRaw(item.SubjectDescription)
			if c := item.Suggestion.Candidate; c != nil {
				raw = c.Score
			}
			conf := engine.Score(raw, item.Suggestion.Signals, pattern)

			sugg := item.Suggestion
			sugg.ID = newID()
			sugg.PatternID = pattern.ID
			sugg.ProposedAccount = pattern.Action.Account
			sugg.ProposedVATCode = pattern.Action.VATCode
			sugg.Confidence = conf
			sugg.Reasoning = confidence.Reasoning(sugg.Signals, pattern)
			sugg.CreatedAt = now()
			if err := p.repo.SaveSuggestion(&sugg); err != nil {
				p.logger.Warn("rescored suggestion not saved", "item", item.ID, "error", err)
				continue
			}
			p.logDecision(tenantID, item.SubjectType, item.SubjectID, "rescored", conf, sugg.Signals, "system")
		}
	}
}

// PromotePattern widens a pattern's tenant scope and records the
// promotion in the audit stream.
func (p *Pipeline) PromotePattern(patternID string, tenantIDs []string, actor string) (*model.LearnedPattern, error) {
	pattern, err := p.learner.Promote(patternID, tenantIDs)
	if err != nil {
		return nil, err
	}
	for _, tenantID := range tenantIDs {
		p.logDecision(tenantID, model.SubjectPattern, patternID, "pattern_promoted", 0, model.MatchSignals{}, actor)
	}
	return pattern, nil
}
