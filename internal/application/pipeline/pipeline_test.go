package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenstad/reconcile-backend/internal/application/pipeline"
	"github.com/evenstad/reconcile-backend/internal/domain/learning"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/config"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

var baseDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func newPipeline(t *testing.T, cfg *config.Config) (*pipeline.Pipeline, *storage.MockRepository) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.New(cfg, repo, logger), repo
}

func bankTx(id string, amount int64) *model.Transaction {
	return &model.Transaction{
		ID:               id,
		TenantID:         "tenant-1",
		Date:             baseDate,
		Amount:           amount,
		Currency:         "NOK",
		CounterpartyText: "ACME AS",
	}
}

func openInvoice(id string, amountDue int64) *model.Invoice {
	return &model.Invoice{
		ID:            id,
		TenantID:      "tenant-1",
		VendorID:      "vendor-1",
		VendorName:    "Acme AS",
		InvoiceNumber: "F-" + id,
		Description:   "Software subscription",
		DueDate:       baseDate,
		AmountDue:     amountDue,
		Currency:      "NOK",
		Status:        model.InvoiceOpen,
		Version:       1,
		CreatedAt:     baseDate,
	}
}

func decisionsFor(t *testing.T, repo *storage.MockRepository, tenantID string) []string {
	t.Helper()
	events, err := repo.ListDecisions(tenantID, 100)
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Decision)
	}
	return out
}

func TestIngestTransaction_RejectsInvalidInput(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	tx := bankTx("tx-1", 0)
	err := pipe.IngestTransaction(context.Background(), tx)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	got, err := repo.GetTransaction("tenant-1", "tx-1")
	require.NoError(t, err)
	assert.Nil(t, got, "rejected input is never persisted")
}

func TestIngestTransaction_NoMatch(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	require.NoError(t, pipe.IngestTransaction(context.Background(), bankTx("tx-1", -125000)))

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "no_match")
	items, err := repo.ListItems(storage.ReviewQueueFilters{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestIngestTransaction_ValidatedReferenceAutoApplies(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	inv := openInvoice("inv-1", 125000)
	inv.ReferenceCode = "INV-1042-7"
	require.NoError(t, repo.SaveInvoice(inv))

	tx := bankTx("tx-1", -125000)
	tx.ReferenceCode = "INV-1042-7"
	require.NoError(t, pipe.IngestTransaction(context.Background(), tx))

	gotInv, err := repo.GetInvoice("tenant-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, gotInv.Status)
	assert.Equal(t, int64(0), gotInv.AmountDue)

	gotTx, err := repo.GetTransaction("tenant-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionMatched, gotTx.Status)

	entries := repo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(125000), entries[0].Lines[0].Debit)
	assert.Equal(t, "1920", entries[0].Lines[1].Account)

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "auto_applied")
}

func TestIngestTransaction_WithoutPatternStaysUnderThreshold(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	// Exact amount and matching vendor, but no validated reference and no
	// pattern vouching for it.
	require.NoError(t, repo.SaveInvoice(openInvoice("inv-1", 125000)))
	require.NoError(t, pipe.IngestTransaction(context.Background(), bankTx("tx-1", -125000)))

	gotTx, err := repo.GetTransaction("tenant-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionUnmatched, gotTx.Status)

	items, err := repo.ListItems(storage.ReviewQueueFilters{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReviewPending, items[0].Status)
	assert.LessOrEqual(t, items[0].Suggestion.Confidence, 74)

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "queued")
}

func TestIngestTransaction_AmbiguousTieGoesToReview(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	// Two indistinguishable invoices: same amount, vendor and due date.
	require.NoError(t, repo.SaveInvoice(openInvoice("inv-1", 125000)))
	require.NoError(t, repo.SaveInvoice(openInvoice("inv-2", 125000)))

	require.NoError(t, pipe.IngestTransaction(context.Background(), bankTx("tx-1", -125000)))

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "queued_ambiguous")
	items, err := repo.ListItems(storage.ReviewQueueFilters{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	// The queued item exposes every tied candidate, not just the first.
	candidates := items[0].Suggestion.Candidates
	require.Len(t, candidates, 2)
	seen := make(map[string]bool)
	for _, c := range candidates {
		require.Len(t, c.InvoiceIDs, 1)
		seen[c.InvoiceIDs[0]] = true
	}
	assert.True(t, seen["inv-1"])
	assert.True(t, seen["inv-2"])
}

func TestIngestTransaction_OverpaymentParksCredit(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	inv := openInvoice("inv-1", 100000)
	inv.ReferenceCode = "INV-1042-7"
	require.NoError(t, repo.SaveInvoice(inv))

	tx := bankTx("tx-1", -150000)
	tx.ReferenceCode = "INV-1042-7"
	require.NoError(t, pipe.IngestTransaction(context.Background(), tx))

	gotInv, err := repo.GetInvoice("tenant-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotInv.AmountDue, "amount due never goes negative")

	credits := repo.Credits()
	require.Len(t, credits, 1)
	assert.Equal(t, int64(50000), credits[0].Amount)
	assert.Equal(t, "vendor-1", credits[0].VendorID)
}

func TestIngestTransaction_OverpaymentSweepsVendorInvoices(t *testing.T) {
	cfg := &config.Config{
		Tenants: map[string]config.TenantConfig{
			"tenant-1": {OverpaymentAutoSearch: true},
		},
	}
	pipe, repo := newPipeline(t, cfg)

	primary := openInvoice("inv-1", 100000)
	primary.ReferenceCode = "INV-1042-7"
	require.NoError(t, repo.SaveInvoice(primary))
	require.NoError(t, repo.SaveInvoice(openInvoice("inv-2", 50000)))

	tx := bankTx("tx-1", -150000)
	tx.ReferenceCode = "INV-1042-7"
	require.NoError(t, pipe.IngestTransaction(context.Background(), tx))

	second, err := repo.GetInvoice("tenant-1", "inv-2")
	require.NoError(t, err)
	assert.Equal(t, model.InvoicePaid, second.Status)
	assert.Empty(t, repo.Credits(), "the sweep consumed the excess")
}

func TestIngestTransaction_ApplyFailureLandsOnExceptionList(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	inv := openInvoice("inv-1", 125000)
	inv.ReferenceCode = "INV-1042-7"
	require.NoError(t, repo.SaveInvoice(inv))
	repo.ApplyMatchErr = errors.New("disk full")

	tx := bankTx("tx-1", -125000)
	tx.ReferenceCode = "INV-1042-7"
	err := pipe.IngestTransaction(context.Background(), tx)
	require.Error(t, err)

	exceptions, listErr := repo.ListExceptions("tenant-1", 10)
	require.NoError(t, listErr)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "tx-1", exceptions[0].SubjectID)

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "apply_failed")

	gotInv, err := repo.GetInvoice("tenant-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(125000), gotInv.AmountDue, "nothing partially applied")
}

func TestIngestInvoice_WithoutPatternQueues(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	inv := openInvoice("inv-1", 50000)
	inv.ID = ""
	require.NoError(t, pipe.IngestInvoice(context.Background(), inv))
	require.NotEmpty(t, inv.ID)

	items, err := repo.ListItems(storage.ReviewQueueFilters{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.SubjectInvoice, items[0].SubjectType)
	assert.Equal(t, "6790", items[0].Suggestion.ProposedAccount, "fallback account proposed")

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "queued")
	assert.Empty(t, repo.Entries(), "nothing posted without approval")
}

func TestIngestInvoice_DerivesOverdueFromDueDate(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	stale := openInvoice("inv-1", 50000)
	stale.DueDate = baseDate // long past
	require.NoError(t, pipe.IngestInvoice(context.Background(), stale))

	fresh := openInvoice("inv-2", 50000)
	fresh.DueDate = time.Now().AddDate(0, 0, 14)
	require.NoError(t, pipe.IngestInvoice(context.Background(), fresh))

	got, err := repo.GetInvoice("tenant-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceOverdue, got.Status)

	got, err = repo.GetInvoice("tenant-1", "inv-2")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceOpen, got.Status)
}

func seedPattern(t *testing.T, repo *storage.MockRepository, successRate float64) *model.LearnedPattern {
	t.Helper()
	p := &model.LearnedPattern{
		ID:          "pat-1",
		Trigger:     learning.NewTrigger("vendor-1", "Software subscription", 50000),
		Action:      model.PatternAction{Account: "6540", VATCode: "25"},
		SuccessRate: successRate,
		Scope:       []string{"tenant-1"},
		Active:      true,
		CreatedAt:   baseDate,
		UpdatedAt:   baseDate,
	}
	require.NoError(t, repo.SavePattern(p))
	return p
}

func TestIngestInvoice_TrustedPatternAutoApplies(t *testing.T) {
	pipe, repo := newPipeline(t, nil)
	seedPattern(t, repo, 0.9)

	require.NoError(t, pipe.IngestInvoice(context.Background(), openInvoice("inv-1", 50000)))

	entries := repo.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "6540", entries[0].Lines[0].Account)
	assert.Equal(t, "25", entries[0].Lines[0].VATCode)
	assert.Equal(t, "2400", entries[0].Lines[1].Account)

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "auto_applied")

	// The application is counted on the pattern.
	p, err := repo.GetPattern("pat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TimesApplied)
}

func TestIngestInvoice_WeakPatternStillQueues(t *testing.T) {
	pipe, repo := newPipeline(t, nil)
	seedPattern(t, repo, 0.3) // 70 + 30*0.3 = 79, under the threshold

	require.NoError(t, pipe.IngestInvoice(context.Background(), openInvoice("inv-1", 50000)))

	items, err := repo.ListItems(storage.ReviewQueueFilters{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "6540", items[0].Suggestion.ProposedAccount, "the pattern's action is still the proposal")
	assert.Empty(t, repo.Entries())
}

func TestCorrectPosting_ReversesAndDecaysPattern(t *testing.T) {
	pipe, repo := newPipeline(t, nil)
	seedPattern(t, repo, 0.9)

	require.NoError(t, pipe.IngestInvoice(context.Background(), openInvoice("inv-1", 50000)))
	entries := repo.Entries()
	require.Len(t, entries, 1, "the trusted pattern auto-applied the posting")
	original := entries[0]

	rev, corrected, err := pipe.CorrectPosting(context.Background(), "tenant-1", original.ID,
		model.PatternAction{Account: "6300"}, "reviewer-1")
	require.NoError(t, err)

	// Reversal first: every leg flipped, referencing the original.
	assert.Equal(t, original.ID, rev.ReversesEntryID)
	assert.Equal(t, original.Lines[0].Account, rev.Lines[0].Account)
	assert.Equal(t, original.Lines[0].Debit, rev.Lines[0].Credit)

	// Then the corrected entry under the reviewer's account.
	assert.Equal(t, original.ID, corrected.ReversesEntryID)
	assert.Equal(t, "6300", corrected.Lines[0].Account)
	assert.Equal(t, int64(50000), corrected.Lines[0].Debit)
	assert.Equal(t, model.SourceManual, corrected.SourceType)

	entries = repo.Entries()
	require.Len(t, entries, 3, "the original is never altered, only appended to")

	// The pattern that vouched for the wrong account loses trust.
	p, err := repo.GetPattern("pat-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.63, p.SuccessRate, 0.001)

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "posting_corrected")
}

func TestCorrectPosting_Rejections(t *testing.T) {
	pipe, _ := newPipeline(t, nil)

	_, _, err := pipe.CorrectPosting(context.Background(), "tenant-1", "missing",
		model.PatternAction{Account: "6300"}, "reviewer-1")
	var policy *model.PolicyViolation
	require.ErrorAs(t, err, &policy)

	_, _, err = pipe.CorrectPosting(context.Background(), "tenant-1", "whatever",
		model.PatternAction{}, "reviewer-1")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRescorePending_RegeneratesMatchingSuggestions(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	// A pending item whose subject matches the pattern trigger, and one
	// that does not.
	require.NoError(t, pipe.IngestInvoice(context.Background(), openInvoice("inv-1", 50000)))
	other := openInvoice("inv-2", 50000)
	other.VendorID = "vendor-9"
	other.Description = "Consulting"
	require.NoError(t, pipe.IngestInvoice(context.Background(), other))

	pattern := seedPattern(t, repo, 0.9)
	pipe.RescorePending(context.Background(), pattern)

	suggs, err := repo.ListSuggestionsBySubject("tenant-1", "inv-1")
	require.NoError(t, err)
	require.Len(t, suggs, 2, "a fresh suggestion is appended, the original kept")

	var rescored *model.Suggestion
	for i := range suggs {
		if suggs[i].PatternID == "pat-1" {
			rescored = &suggs[i]
		}
	}
	require.NotNil(t, rescored)
	assert.Equal(t, "6540", rescored.ProposedAccount)
	assert.Equal(t, 97, rescored.Confidence)

	otherSuggs, err := repo.ListSuggestionsBySubject("tenant-1", "inv-2")
	require.NoError(t, err)
	assert.Len(t, otherSuggs, 1, "non-matching subjects are untouched")

	assert.Contains(t, decisionsFor(t, repo, "tenant-1"), "rescored")
}

func TestPromotePattern_WidensScopeAndAudits(t *testing.T) {
	pipe, repo := newPipeline(t, nil)
	seedPattern(t, repo, 0.95)

	promoted, err := pipe.PromotePattern("pat-1", []string{"tenant-2"}, "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, promoted.Scope, "tenant-2")

	events, err := repo.ListDecisions("tenant-2", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "pattern_promoted", events[0].Decision)
	assert.Equal(t, "ops@example.com", events[0].Actor)
}

func TestPromotePattern_BelowBoundRefused(t *testing.T) {
	pipe, repo := newPipeline(t, nil)
	seedPattern(t, repo, 0.7)

	_, err := pipe.PromotePattern("pat-1", []string{"tenant-2"}, "ops@example.com")
	var policy *model.PolicyViolation
	require.ErrorAs(t, err, &policy)

	events, listErr := repo.ListDecisions("tenant-2", 10)
	require.NoError(t, listErr)
	assert.Empty(t, events, "refused promotions leave no audit events")
}

func TestRun_DrainsJobs(t *testing.T) {
	pipe, repo := newPipeline(t, nil)

	jobs := make(chan pipeline.Job, 3)
	jobs <- pipeline.Job{Kind: pipeline.JobTransaction, Transaction: bankTx("tx-1", -10000)}
	jobs <- pipeline.Job{Kind: pipeline.JobInvoice, Invoice: openInvoice("inv-1", 50000)}
	jobs <- pipeline.Job{Kind: pipeline.JobTransaction, Transaction: bankTx("tx-2", 0)} // invalid, logged and dropped
	close(jobs)

	pipe.Run(context.Background(), jobs)

	gotTx, err := repo.GetTransaction("tenant-1", "tx-1")
	require.NoError(t, err)
	require.NotNil(t, gotTx)

	gotInv, err := repo.GetInvoice("tenant-1", "inv-1")
	require.NoError(t, err)
	require.NotNil(t, gotInv)
}
