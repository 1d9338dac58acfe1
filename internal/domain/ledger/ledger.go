// Package ledger builds and validates double-entry postings. Entries are
// append-only: a mistake is never edited, it is reversed by an offsetting
// entry plus a new correct entry, both cross-referencing the original.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// Store is the collaborator that persists postings. Append-only by
// contract; implementations must reject updates.
type Store interface {
	AppendEntry(e *model.LedgerEntry) error
	GetEntry(id string) (*model.LedgerEntry, error)
}

// Validate checks that an entry balances (Σdebit == Σcredit, both
// positive) and traces to a source. Every entry is validated before the
// posting call, never after.
func Validate(e *model.LedgerEntry) error {
	if len(e.Lines) < 2 {
		return &model.ValidationError{Field: "lines", Reason: "an entry needs at least two lines"}
	}
	var debit, credit int64
	for _, l := range e.Lines {
		if l.Debit < 0 || l.Credit < 0 {
			return &model.ValidationError{Field: "lines", Reason: "negative debit or credit"}
		}
		if l.Debit > 0 && l.Credit > 0 {
			return &model.ValidationError{Field: "lines", Reason: "a line is either debit or credit, not both"}
		}
		if l.Account == "" {
			return &model.ValidationError{Field: "account", Reason: "missing account"}
		}
		debit += l.Debit
		credit += l.Credit
	}
	if debit != credit {
		return &model.ValidationError{Field: "lines", Reason: "entry does not balance"}
	}
	if debit == 0 {
		return &model.ValidationError{Field: "lines", Reason: "zero-amount entry"}
	}
	if e.SourceID == "" {
		return &model.ValidationError{Field: "source_id", Reason: "entry must trace to a suggestion or manual override"}
	}
	return nil
}

// Expense builds the standard vendor-expense posting: debit the expense
// account, credit the bank account.
func Expense(tenantID, account, vatCode, bankAccount string, amount int64, source model.LedgerSource, sourceID string) *model.LedgerEntry {
	return &model.LedgerEntry{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Lines: []model.LedgerLine{
			{Account: account, VATCode: vatCode, Debit: amount},
			{Account: bankAccount, Credit: amount},
		},
		SourceType: source,
		SourceID:   sourceID,
		CreatedAt:  time.Now(),
	}
}

// Reversal builds the offsetting entry for a prior posting: every line's
// debit and credit swapped, cross-referencing the original.
func Reversal(original *model.LedgerEntry, source model.LedgerSource, sourceID string) *model.LedgerEntry {
	lines := make([]model.LedgerLine, len(original.Lines))
	for i, l := range original.Lines {
		lines[i] = model.LedgerLine{
			Account: l.Account,
			VATCode: l.VATCode,
			Debit:   l.Credit,
			Credit:  l.Debit,
		}
	}
	return &model.LedgerEntry{
		ID:              uuid.NewString(),
		TenantID:        original.TenantID,
		Lines:           lines,
		SourceType:      source,
		SourceID:        sourceID,
		ReversesEntryID: original.ID,
		CreatedAt:       time.Now(),
	}
}

// Post validates and appends an entry.
func Post(store Store, e *model.LedgerEntry) error {
	if err := Validate(e); err != nil {
		return err
	}
	return store.AppendEntry(e)
}

// Correct reverses a prior posting and posts the corrected entry, both
// referencing the original. Returns the two new entries.
func Correct(store Store, originalID string, corrected *model.LedgerEntry, source model.LedgerSource, sourceID string) (*model.LedgerEntry, *model.LedgerEntry, error) {
	original, err := store.GetEntry(originalID)
	if err != nil {
		return nil, nil, err
	}
	if original == nil {
		return nil, nil, &model.PolicyViolation{Op: "correct entry", Reason: "original entry not found"}
	}

	rev := Reversal(original, source, sourceID)
	if err := Post(store, rev); err != nil {
		return nil, nil, err
	}

	corrected.ReversesEntryID = original.ID
	if err := Post(store, corrected); err != nil {
		return rev, nil, err
	}
	return rev, corrected, nil
}
