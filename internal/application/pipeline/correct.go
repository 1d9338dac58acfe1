package pipeline

import (
	"context"

	"github.com/evenstad/reconcile-backend/internal/domain/ledger"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// CorrectPosting fixes an already-posted entry the append-only way: a
// reversal plus a corrected entry, both referencing the original. When
// the original was auto-applied from a pattern-backed suggestion, the
// pattern loses trust, so repeatedly corrected auto-applies decay out
// of scoring.
func (p *Pipeline) CorrectPosting(ctx context.Context, tenantID, entryID string, action model.PatternAction, actor string) (*model.LedgerEntry, *model.LedgerEntry, error) {
	if action.Account == "" {
		return nil, nil, &model.ValidationError{Field: "account", Reason: "a correction needs an account"}
	}
	if actor == "" {
		return nil, nil, &model.ValidationError{Field: "actor", Reason: "missing actor"}
	}
	original, err := p.repo.GetEntry(entryID)
	if err != nil {
		return nil, nil, err
	}
	if original == nil || original.TenantID != tenantID {
		return nil, nil, &model.PolicyViolation{Op: "correct entry", Reason: "entry not found"}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	lock := p.tenantLock(tenantID)
	lock.Lock()
	rev, corrected, err := ledger.Correct(p.repo, entryID, correctedEntry(original, action), model.SourceManual, original.ID)
	lock.Unlock()
	if err != nil {
		p.recordException(tenantID, entryID, model.SubjectLedgerEntry, err.Error())
		return nil, nil, err
	}

	// Trace back to the suggestion so the pattern behind the posting
	// takes the blame, and the audit event names the original subject.
	subjectType, subjectID := model.SubjectLedgerEntry, entryID
	if original.SourceType == model.SourceSuggestion {
		sugg, err := p.repo.GetSuggestion(tenantID, original.SourceID)
		if err != nil {
			p.logger.Warn("suggestion lookup failed", "entry", entryID, "error", err)
		} else if sugg != nil {
			subjectType, subjectID = sugg.SubjectType, sugg.SubjectID
			if sugg.PatternID != "" {
				if _, err := p.learner.Contradict(sugg.PatternID); err != nil {
					p.logger.Warn("pattern contradict failed", "pattern", sugg.PatternID, "error", err)
				}
			}
		}
	}
	p.logDecision(tenantID, subjectType, subjectID, "posting_corrected", 0, model.MatchSignals{}, actor)
	return rev, corrected, nil
}

// correctedEntry rebuilds an entry's lines with every debit leg moved to
// the corrected account and VAT code. The credit legs (bank, payable)
// were never in question.
func correctedEntry(original *model.LedgerEntry, action model.PatternAction) *model.LedgerEntry {
	lines := make([]model.LedgerLine, len(original.Lines))
	copy(lines, original.Lines)
	for i := range lines {
		if lines[i].Debit > 0 {
			lines[i].Account = action.Account
			lines[i].VATCode = action.VATCode
		}
	}
	return &model.LedgerEntry{
		ID:         newID(),
		TenantID:   original.TenantID,
		Lines:      lines,
		SourceType: model.SourceManual,
		SourceID:   original.ID,
		CreatedAt:  now(),
	}
}
