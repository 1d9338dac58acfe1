package storage

import (
	"sort"
	"sync"

	"github.com/evenstad/reconcile-backend/internal/domain/learning"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// MockRepository is an in-memory implementation of Repository for tests.
// It is safe for concurrent use and honors the same optimistic-concurrency
// semantics as the SQLite implementation.
type MockRepository struct {
	mu           sync.Mutex
	transactions map[string]*model.Transaction
	invoices     map[string]*model.Invoice
	suggestions  []model.Suggestion
	items        map[string]*model.ReviewQueueItem
	patterns     map[string]*model.LearnedPattern
	corrections  []learning.Correction
	entries      map[string]*model.LedgerEntry
	entryOrder   []string
	decisions    []model.DecisionEvent
	exceptions   []model.ExceptionItem
	credits      []model.UnappliedCredit

	// Error injection for failure-path tests.
	ApplyMatchErr    error
	ResolveItemErr   error
	AppendEntryErr   error
	InsertItemErr    error
	UpdatePatternErr error
}

// Compile-time check that MockRepository implements Repository.
var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates an empty mock.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions: make(map[string]*model.Transaction),
		invoices:     make(map[string]*model.Invoice),
		items:        make(map[string]*model.ReviewQueueItem),
		patterns:     make(map[string]*model.LearnedPattern),
		entries:      make(map[string]*model.LedgerEntry),
	}
}

// Close is a no-op.
func (m *MockRepository) Close() error { return nil }

func (m *MockRepository) SaveTransaction(t *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MockRepository) GetTransaction(tenantID, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || t.TenantID != tenantID {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MockRepository) ListUnmatchedTransactions(tenantID, currency string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transaction
	for _, t := range m.transactions {
		if t.TenantID == tenantID && t.Currency == currency && t.Status == model.TransactionUnmatched {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MockRepository) SetTransactionStatus(tenantID, id string, status model.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || t.TenantID != tenantID {
		return &model.PolicyViolation{Op: "set transaction status", Reason: "transaction not found"}
	}
	t.Status = status
	return nil
}

func (m *MockRepository) SaveInvoice(inv *model.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *MockRepository) GetInvoice(tenantID, id string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (m *MockRepository) ListOpenInvoices(tenantID, currency string) ([]model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Invoice
	for _, inv := range m.invoices {
		if inv.TenantID != tenantID || inv.Currency != currency {
			continue
		}
		if inv.AmountDue <= 0 || inv.Status == model.InvoicePaid {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (m *MockRepository) ApplyMatch(args ApplyMatchArgs) error {
	if m.ApplyMatchErr != nil {
		return m.ApplyMatchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate everything before mutating so a conflict leaves no
	// partial application, mirroring the SQLite transaction.
	for _, app := range args.Applications {
		inv, ok := m.invoices[app.InvoiceID]
		if !ok || inv.TenantID != args.TenantID || inv.Version != app.InvoiceVersion {
			return &model.PersistenceConflict{Entity: "invoice", ID: app.InvoiceID}
		}
		if app.NewAmountDue < 0 {
			return &model.ValidationError{Field: "amount_due", Reason: "balance would go negative"}
		}
	}
	for _, txID := range args.TransactionIDs {
		t, ok := m.transactions[txID]
		if !ok || t.TenantID != args.TenantID || t.Status != model.TransactionUnmatched {
			return &model.PersistenceConflict{Entity: "transaction", ID: txID}
		}
	}

	for _, app := range args.Applications {
		inv := m.invoices[app.InvoiceID]
		inv.AmountDue = app.NewAmountDue
		inv.Status = app.NewStatus
		inv.Version++
	}
	for _, txID := range args.TransactionIDs {
		m.transactions[txID].Status = model.TransactionMatched
	}
	if args.Entry != nil {
		cp := *args.Entry
		m.entries[cp.ID] = &cp
		m.entryOrder = append(m.entryOrder, cp.ID)
	}
	if args.Credit != nil {
		m.credits = append(m.credits, *args.Credit)
	}
	return nil
}

func (m *MockRepository) SaveSuggestion(s *model.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestions = append(m.suggestions, *s)
	return nil
}

func (m *MockRepository) GetSuggestion(tenantID, id string) (*model.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.suggestions {
		s := m.suggestions[i]
		if s.TenantID == tenantID && s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) ListSuggestionsBySubject(tenantID, subjectID string) ([]model.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Suggestion
	for i := len(m.suggestions) - 1; i >= 0; i-- {
		s := m.suggestions[i]
		if s.TenantID == tenantID && s.SubjectID == subjectID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockRepository) GetItem(id string) (*model.ReviewQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (m *MockRepository) InsertItem(item *model.ReviewQueueItem) error {
	if m.InsertItemErr != nil {
		return m.InsertItemErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *MockRepository) MarkInReview(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Status == model.ReviewResolved {
		return &model.PolicyViolation{Op: "open item", Reason: "item not open for review"}
	}
	item.Status = model.ReviewInReview
	return nil
}

func (m *MockRepository) ResolveItem(id string, version int64, res model.Resolution) error {
	if m.ResolveItemErr != nil {
		return m.ResolveItemErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return &model.PolicyViolation{Op: "resolve item", Reason: "item not found"}
	}
	if item.Status == model.ReviewResolved {
		return &model.PolicyViolation{Op: "resolve item", Reason: "item already resolved"}
	}
	if item.Version != version {
		return &model.PersistenceConflict{Entity: "review_queue_item", ID: id}
	}
	cp := res
	item.Status = model.ReviewResolved
	item.Resolution = &cp
	item.Version++
	return nil
}

func (m *MockRepository) RevertResolution(id string, version int64, status model.ReviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Status != model.ReviewResolved || item.Version != version {
		return &model.PersistenceConflict{Entity: "review_queue_item", ID: id}
	}
	item.Status = status
	item.Resolution = nil
	item.Version++
	return nil
}

func (m *MockRepository) ListPending(tenantID string) ([]model.ReviewQueueItem, error) {
	return m.ListItems(ReviewQueueFilters{TenantID: tenantID, Status: model.ReviewPending, Limit: 500})
}

func (m *MockRepository) ListItems(filters ReviewQueueFilters) ([]model.ReviewQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReviewQueueItem
	for _, item := range m.items {
		if item.TenantID != filters.TenantID {
			continue
		}
		if filters.Status != "" && item.Status != filters.Status {
			continue
		}
		if item.Priority < filters.MinPriority {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRepository) ReturnSubject(item *model.ReviewQueueItem) error {
	switch item.SubjectType {
	case model.SubjectTransaction:
		return m.SetTransactionStatus(item.TenantID, item.SubjectID, model.TransactionUnmatched)
	case model.SubjectInvoice:
		m.mu.Lock()
		defer m.mu.Unlock()
		kept := m.suggestions[:0]
		for _, s := range m.suggestions {
			if !(s.TenantID == item.TenantID && s.SubjectID == item.SubjectID) {
				kept = append(kept, s)
			}
		}
		m.suggestions = kept
	}
	return nil
}

func (m *MockRepository) FindPatternByTrigger(t model.PatternTrigger) (*model.LearnedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := learning.SignatureKey(t)
	for _, p := range m.patterns {
		if learning.SignatureKey(p.Trigger) == key {
			cp := clonePattern(p)
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) GetPattern(id string) (*model.LearnedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[id]
	if !ok {
		return nil, nil
	}
	cp := clonePattern(p)
	return &cp, nil
}

func (m *MockRepository) SavePattern(p *model.LearnedPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Version == 0 {
		p.Version = 1
	}
	cp := clonePattern(p)
	m.patterns[p.ID] = &cp
	return nil
}

func (m *MockRepository) UpdatePattern(p *model.LearnedPattern) error {
	if m.UpdatePatternErr != nil {
		return m.UpdatePatternErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.patterns[p.ID]
	if !ok || existing.Version != p.Version {
		return &model.PersistenceConflict{Entity: "learned_pattern", ID: p.ID}
	}
	cp := clonePattern(p)
	cp.Version++
	m.patterns[p.ID] = &cp
	p.Version++
	return nil
}

func (m *MockRepository) ActivePatternsForTenant(tenantID string) ([]model.LearnedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LearnedPattern
	for _, p := range m.patterns {
		if p.Active && p.InScope(tenantID) {
			out = append(out, clonePattern(p))
		}
	}
	return out, nil
}

func clonePattern(p *model.LearnedPattern) model.LearnedPattern {
	cp := *p
	cp.Scope = append([]string(nil), p.Scope...)
	return cp
}

func (m *MockRepository) AppendCorrection(c learning.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, c)
	return nil
}

func (m *MockRepository) RecentCorrections(signatureKey string, limit int) ([]learning.Correction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []learning.Correction
	for i := len(m.corrections) - 1; i >= 0 && len(out) < limit; i-- {
		if m.corrections[i].SignatureKey == signatureKey {
			out = append(out, m.corrections[i])
		}
	}
	return out, nil
}

func (m *MockRepository) AppendEntry(e *model.LedgerEntry) error {
	if m.AppendEntryErr != nil {
		return m.AppendEntryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.ID] = &cp
	m.entryOrder = append(m.entryOrder, e.ID)
	return nil
}

func (m *MockRepository) GetEntry(id string) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MockRepository) ListEntries(tenantID string, limit int) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []model.LedgerEntry
	for i := len(m.entryOrder) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[m.entryOrder[i]]
		if e.TenantID == tenantID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// Entries returns every posting in append order, for test assertions.
func (m *MockRepository) Entries() []model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.LedgerEntry, 0, len(m.entryOrder))
	for _, id := range m.entryOrder {
		out = append(out, *m.entries[id])
	}
	return out
}

// Credits returns recorded unapplied credits, for test assertions.
func (m *MockRepository) Credits() []model.UnappliedCredit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UnappliedCredit(nil), m.credits...)
}

func (m *MockRepository) LogDecision(e model.DecisionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, e)
	return nil
}

func (m *MockRepository) ListDecisions(tenantID string, limit int) ([]model.DecisionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []model.DecisionEvent
	for i := len(m.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.decisions[i].TenantID == tenantID {
			out = append(out, m.decisions[i])
		}
	}
	return out, nil
}

func (m *MockRepository) AddException(e *model.ExceptionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exceptions = append(m.exceptions, *e)
	return nil
}

func (m *MockRepository) ListExceptions(tenantID string, limit int) ([]model.ExceptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []model.ExceptionItem
	for i := len(m.exceptions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.exceptions[i].TenantID == tenantID {
			out = append(out, m.exceptions[i])
		}
	}
	return out, nil
}
