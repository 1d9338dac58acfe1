package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evenstad/reconcile-backend/internal/domain/confidence"
	"github.com/evenstad/reconcile-backend/internal/domain/ledger"
	"github.com/evenstad/reconcile-backend/internal/domain/matcher"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/config"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

func newID() string  { return uuid.NewString() }
func now() time.Time { return time.Now() }

// IngestTransaction validates, persists and processes one bank
// transaction end to end.
func (p *Pipeline) IngestTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := validateTransaction(tx); err != nil {
		return err
	}
	if tx.ID == "" {
		tx.ID = newID()
	}
	tx.Status = model.TransactionUnmatched
	tx.CreatedAt = now()
	if err := p.repo.SaveTransaction(tx); err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return p.ProcessTransaction(ctx, tx)
}

// ProcessTransaction runs matching and routing for one persisted
// transaction.
func (p *Pipeline) ProcessTransaction(ctx context.Context, tx *model.Transaction) error {
	tc := p.cfg.Tenant(tx.TenantID)

	invoices, err := p.repo.ListOpenInvoices(tx.TenantID, tx.Currency)
	if err != nil {
		return fmt.Errorf("list open invoices: %w", err)
	}
	siblings, err := p.repo.ListUnmatchedTransactions(tx.TenantID, tx.Currency)
	if err != nil {
		return fmt.Errorf("list unmatched transactions: %w", err)
	}

	m := matcher.NewMatcher(tc.MatcherConfig())
	candidates, matchErr := m.Match(*tx, invoices, siblings)

	if len(candidates) == 0 {
		p.logDecision(tx.TenantID, model.SubjectTransaction, tx.ID, "no_match", 0, model.MatchSignals{}, "system")
		return nil
	}
	top := candidates[0]

	// Pattern lookup keys off the best candidate's primary invoice.
	primary := p.findInvoice(invoices, top.InvoiceIDs[0])
	var pattern *model.LearnedPattern
	if primary != nil {
		pattern, err = p.learner.FindApplicable(tx.TenantID, primary.VendorID, primary.Description, tx.Amount)
		if err != nil {
			p.logger.Warn("pattern lookup failed", "transaction", tx.ID, "error", err)
		}
	}

	engine := confidence.NewEngine(confidence.Config{Threshold: tc.ConfidenceThreshold})
	conf := engine.Score(top.Score, top.Signals, pattern)

	sugg := model.Suggestion{
		ID:              newID(),
		TenantID:        tx.TenantID,
		SubjectID:       tx.ID,
		SubjectType:     model.SubjectTransaction,
		ProposedAccount: tc.PayableAccount,
		ProposedVATCode: "",
		Confidence:      conf,
		Reasoning:       confidence.Reasoning(top.Signals, pattern),
		Signals:         top.Signals,
		Candidate:       &top,
		CreatedAt:       now(),
	}
	if pattern != nil {
		sugg.PatternID = pattern.ID
	}
	// An unbreakable top-score tie carries every tied candidate on the
	// suggestion, so the review panel shows all of them.
	var ambiguous *model.AmbiguousMatchError
	if errors.As(matchErr, &ambiguous) {
		sugg.Candidates = ambiguous.Candidates
	}
	if err := p.repo.SaveSuggestion(&sugg); err != nil {
		return fmt.Errorf("save suggestion: %w", err)
	}

	if ambiguous != nil {
		p.logDecision(tx.TenantID, model.SubjectTransaction, tx.ID, "queued_ambiguous", conf, top.Signals, "system")
		return p.enqueueForReview(tx, primary, sugg, tc)
	}

	if engine.Decide(sugg) == confidence.RouteAutoApply {
		if err := p.applyCandidate(ctx, tx, &sugg, top, tc); err != nil {
			p.recordException(tx.TenantID, tx.ID, model.SubjectTransaction, err.Error())
			p.logDecision(tx.TenantID, model.SubjectTransaction, tx.ID, "apply_failed", conf, top.Signals, "system")
			return err
		}
		if pattern != nil {
			if _, err := p.learner.MarkApplied(pattern.ID); err != nil {
				p.logger.Warn("pattern application not counted", "pattern", pattern.ID, "error", err)
			}
		}
		p.logDecision(tx.TenantID, model.SubjectTransaction, tx.ID, "auto_applied", conf, top.Signals, "system")
		return nil
	}

	p.logDecision(tx.TenantID, model.SubjectTransaction, tx.ID, "queued", conf, top.Signals, "system")
	return p.enqueueForReview(tx, primary, sugg, tc)
}

func (p *Pipeline) enqueueForReview(tx *model.Transaction, primary *model.Invoice, sugg model.Suggestion, tc config.TenantConfig) error {
	vendorID, description := "", tx.CounterpartyText
	dueDate := tx.Date
	if primary != nil {
		vendorID = primary.VendorID
		description = primary.Description
		dueDate = primary.DueDate
	}
	_, err := p.queue.Enqueue(sugg, tc.Priority(tx.Amount), dueDate, vendorID, description, tx.Amount)
	return err
}

// applyCandidate is the serialized apply section: under the tenant lock,
// re-read every invoice fresh, compute the per-invoice applications and
// hand storage one atomic unit of work. Conflicts retry with fresh reads
// up to the bound.
func (p *Pipeline) applyCandidate(ctx context.Context, tx *model.Transaction, sugg *model.Suggestion, cand model.MatchCandidate, tc config.TenantConfig) error {
	lock := p.tenantLock(tx.TenantID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		args, err := p.buildApplication(tx, sugg, cand, tc)
		if err != nil {
			return err
		}
		err = p.repo.ApplyMatch(*args)
		if err == nil {
			return nil
		}
		var conflict *model.PersistenceConflict
		if !errors.As(err, &conflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// buildApplication reads fresh invoice state and computes how the paid
// amount spreads across the candidate's invoices. amount_due never goes
// negative: excess becomes an unapplied credit, or spills into the
// vendor's other open invoices when the tenant's overpayment policy
// allows the sweep.
func (p *Pipeline) buildApplication(tx *model.Transaction, sugg *model.Suggestion, cand model.MatchCandidate, tc config.TenantConfig) (*storage.ApplyMatchArgs, error) {
	paid := tx.Amount
	if paid < 0 {
		paid = -paid
	}
	txIDs := cand.TransactionIDs
	if len(txIDs) == 0 {
		txIDs = []string{tx.ID}
	}
	if len(txIDs) > 1 {
		// Combined coverage: the group's total settles the invoice.
		paid = 0
		for _, id := range txIDs {
			member, err := p.repo.GetTransaction(tx.TenantID, id)
			if err != nil {
				return nil, err
			}
			if member == nil || member.Status != model.TransactionUnmatched {
				return nil, &model.PersistenceConflict{Entity: "transaction", ID: id}
			}
			paid += abs(member.Amount)
		}
	}

	remaining := paid
	var apps []storage.MatchApplication
	var appliedTotal int64
	var vendorID string

	for _, invID := range cand.InvoiceIDs {
		inv, err := p.repo.GetInvoice(tx.TenantID, invID)
		if err != nil {
			return nil, err
		}
		if inv == nil || inv.AmountDue <= 0 {
			return nil, &model.PersistenceConflict{Entity: "invoice", ID: invID}
		}
		vendorID = inv.VendorID
		applied := inv.AmountDue
		if remaining < applied {
			applied = remaining
		}
		if applied == 0 {
			break
		}
		apps = append(apps, application(inv, applied))
		appliedTotal += applied
		remaining -= applied
	}

	// Overpayment policy: optionally sweep the vendor's other open
	// invoices before parking the rest as credit.
	if remaining > 0 && tc.OverpaymentAutoSearch && vendorID != "" {
		others, err := p.repo.ListOpenInvoices(tx.TenantID, tx.Currency)
		if err != nil {
			return nil, err
		}
		for _, inv := range others {
			if remaining == 0 {
				break
			}
			if inv.VendorID != vendorID || containsID(cand.InvoiceIDs, inv.ID) {
				continue
			}
			applied := inv.AmountDue
			if remaining < applied {
				applied = remaining
			}
			apps = append(apps, application(&inv, applied))
			appliedTotal += applied
			remaining -= applied
		}
	}

	entry := &model.LedgerEntry{
		ID:       newID(),
		TenantID: tx.TenantID,
		Lines: []model.LedgerLine{
			{Account: sugg.ProposedAccount, VATCode: sugg.ProposedVATCode, Debit: appliedTotal},
			{Account: tc.BankAccount, Credit: appliedTotal},
		},
		SourceType: model.SourceSuggestion,
		SourceID:   sugg.ID,
		CreatedAt:  now(),
	}
	if err := ledger.Validate(entry); err != nil {
		return nil, err
	}

	args := &storage.ApplyMatchArgs{
		TenantID:       tx.TenantID,
		TransactionIDs: txIDs,
		Applications:   apps,
		Entry:          entry,
	}
	if remaining > 0 {
		args.Credit = &model.UnappliedCredit{
			ID:            newID(),
			TenantID:      tx.TenantID,
			TransactionID: tx.ID,
			VendorID:      vendorID,
			Amount:        remaining,
			CreatedAt:     now(),
		}
	}
	return args, nil
}

func application(inv *model.Invoice, applied int64) storage.MatchApplication {
	newDue := inv.AmountDue - applied
	status := model.InvoicePartiallyPaid
	if newDue == 0 {
		status = model.InvoicePaid
	}
	return storage.MatchApplication{
		InvoiceID:      inv.ID,
		InvoiceVersion: inv.Version,
		AppliedAmount:  applied,
		NewAmountDue:   newDue,
		NewStatus:      status,
	}
}

func (p *Pipeline) findInvoice(invoices []model.Invoice, id string) *model.Invoice {
	for i := range invoices {
		if invoices[i].ID == id {
			return &invoices[i]
		}
	}
	return nil
}

func (p *Pipeline) logDecision(tenantID string, subjectType model.SubjectType, subjectID, decision string, conf int, signals model.MatchSignals, actor string) {
	event := model.DecisionEvent{
		ID:          newID(),
		Timestamp:   now(),
		TenantID:    tenantID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Decision:    decision,
		Confidence:  conf,
		Signals:     signals,
		Actor:       actor,
	}
	if err := p.repo.LogDecision(event); err != nil {
		p.logger.Error("decision log append failed", "subject", subjectID, "error", err)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
