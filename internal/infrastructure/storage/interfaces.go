package storage

import (
	"github.com/evenstad/reconcile-backend/internal/domain/learning"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// Repository defines the complete storage interface. Segmented so
// consumers depend only on what they use, and so tests can swap the
// SQLite implementation for the in-memory mock.
type Repository interface {
	TransactionRepository
	InvoiceRepository
	SuggestionRepository
	ReviewQueueRepository
	PatternRepository
	LedgerRepository
	DecisionLogRepository
	ExceptionRepository
	Close() error
}

// TransactionRepository handles bank transactions.
type TransactionRepository interface {
	SaveTransaction(t *model.Transaction) error
	GetTransaction(tenantID, id string) (*model.Transaction, error)
	ListUnmatchedTransactions(tenantID, currency string) ([]model.Transaction, error)
	SetTransactionStatus(tenantID, id string, status model.TransactionStatus) error
}

// InvoiceRepository handles vendor invoices and the serialized match
// application.
type InvoiceRepository interface {
	SaveInvoice(inv *model.Invoice) error
	GetInvoice(tenantID, id string) (*model.Invoice, error)
	ListOpenInvoices(tenantID, currency string) ([]model.Invoice, error)

	// ApplyMatch decrements invoice balances, marks transactions matched,
	// appends the paired ledger entry and any unapplied credit, all in a
	// single database transaction. Version guards on every invoice;
	// a lost race rolls everything back and returns
	// *model.PersistenceConflict.
	ApplyMatch(args ApplyMatchArgs) error
}

// MatchApplication is one invoice's share of an applied match.
type MatchApplication struct {
	InvoiceID      string
	InvoiceVersion int64
	AppliedAmount  int64
	NewAmountDue   int64
	NewStatus      model.InvoiceStatus
}

// ApplyMatchArgs is the unit of work for one applied match.
type ApplyMatchArgs struct {
	TenantID       string
	TransactionIDs []string
	Applications   []MatchApplication
	Entry          *model.LedgerEntry
	Credit         *model.UnappliedCredit
}

// SuggestionRepository persists machine suggestions.
type SuggestionRepository interface {
	SaveSuggestion(s *model.Suggestion) error
	GetSuggestion(tenantID, id string) (*model.Suggestion, error)
	ListSuggestionsBySubject(tenantID, subjectID string) ([]model.Suggestion, error)
}

// ReviewQueueRepository implements the review queue's persistence,
// including the optimistic resolve. Satisfies reviewqueue.Store.
type ReviewQueueRepository interface {
	GetItem(id string) (*model.ReviewQueueItem, error)
	InsertItem(item *model.ReviewQueueItem) error
	MarkInReview(id string) error
	ResolveItem(id string, version int64, res model.Resolution) error
	RevertResolution(id string, version int64, status model.ReviewStatus) error
	ListPending(tenantID string) ([]model.ReviewQueueItem, error)
	ListItems(filters ReviewQueueFilters) ([]model.ReviewQueueItem, error)
	ReturnSubject(item *model.ReviewQueueItem) error
}

// ReviewQueueFilters narrows a queue listing. Results always come back in
// working order: priority desc, due date asc, created asc.
type ReviewQueueFilters struct {
	TenantID    string
	Status      model.ReviewStatus // empty = all
	MinPriority int
	Limit       int // 0 = default 50
}

// PatternRepository persists learned patterns and corrections. Satisfies
// learning.PatternStore and learning.CorrectionStore.
type PatternRepository interface {
	FindPatternByTrigger(t model.PatternTrigger) (*model.LearnedPattern, error)
	GetPattern(id string) (*model.LearnedPattern, error)
	SavePattern(p *model.LearnedPattern) error
	UpdatePattern(p *model.LearnedPattern) error
	ActivePatternsForTenant(tenantID string) ([]model.LearnedPattern, error)
	AppendCorrection(c learning.Correction) error
	RecentCorrections(signatureKey string, limit int) ([]learning.Correction, error)
}

// LedgerRepository is the append-only posting store. Satisfies
// ledger.Store.
type LedgerRepository interface {
	AppendEntry(e *model.LedgerEntry) error
	GetEntry(id string) (*model.LedgerEntry, error)
	ListEntries(tenantID string, limit int) ([]model.LedgerEntry, error)
}

// DecisionLogRepository is the append-only audit stream.
type DecisionLogRepository interface {
	LogDecision(e model.DecisionEvent) error
	ListDecisions(tenantID string, limit int) ([]model.DecisionEvent, error)
}

// ExceptionRepository surfaces per-item failures to operators.
type ExceptionRepository interface {
	AddException(e *model.ExceptionItem) error
	ListExceptions(tenantID string, limit int) ([]model.ExceptionItem, error)
}
