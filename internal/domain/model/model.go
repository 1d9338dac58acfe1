// Package model holds the domain types shared across the matching,
// confidence, review and learning packages, plus the error taxonomy
// the pipeline and API layers dispatch on.
//
// All monetary amounts are signed int64 minor units (øre/cents).
package model

import "time"

// TransactionStatus tracks whether a bank transaction has been reconciled.
type TransactionStatus string

const (
	TransactionUnmatched TransactionStatus = "unmatched"
	TransactionMatched   TransactionStatus = "matched"
	TransactionIgnored   TransactionStatus = "ignored"
)

// Transaction is a bank-statement line. Immutable once created; matches
// are recorded separately, only Status changes.
type Transaction struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	Date             time.Time         `json:"date"`
	Amount           int64             `json:"amount"` // signed minor units
	Currency         string            `json:"currency"`
	CounterpartyText string            `json:"counterparty_text"`
	ReferenceCode    string            `json:"reference_code,omitempty"`
	Status           TransactionStatus `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
}

// InvoiceStatus tracks an invoice through its payment lifecycle.
type InvoiceStatus string

const (
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
)

// Invoice is a vendor invoice awaiting settlement. AmountDue only
// decreases via applied matches and floors at zero.
type Invoice struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	VendorID      string        `json:"vendor_id"`
	VendorName    string        `json:"vendor_name"`
	VendorAliases []string      `json:"vendor_aliases,omitempty"`
	InvoiceNumber string        `json:"invoice_number"`
	ReferenceCode string        `json:"reference_code,omitempty"`
	Description   string        `json:"description"`
	DueDate       time.Time     `json:"due_date"`
	AmountDue     int64         `json:"amount_due"`
	Currency      string        `json:"currency"`
	Status        InvoiceStatus `json:"status"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
}

// MatchSignals is the normalized signal breakdown behind a candidate score.
// Kept on the candidate and copied into the decision log for audit.
type MatchSignals struct {
	AmountExact            bool    `json:"amount_exact"`
	AmountScore            float64 `json:"amount_score"`            // [0,1]
	ReferenceExact         bool    `json:"reference_exact"`         // checksum-validated
	CounterpartySimilarity float64 `json:"counterparty_similarity"` // [0,1]
	DateProximityDays      int     `json:"date_proximity_days"`
	DateScore              float64 `json:"date_score"` // [0,1]
}

// MatchCandidate is an ephemeral scored pairing. Never persisted.
// InvoiceIDs has one element in the common case; subset-sum matches carry
// several. TransactionIDs likewise carries siblings when several
// transactions combine to cover a single invoice.
type MatchCandidate struct {
	TransactionID  string       `json:"transaction_id"`
	TransactionIDs []string     `json:"transaction_ids,omitempty"`
	InvoiceIDs     []string     `json:"invoice_ids"`
	Score          float64      `json:"score"` // 0-100
	Signals        MatchSignals `json:"signals"`

	// Tie-break inputs, retained so callers can report why one candidate won.
	DateDistanceDays int   `json:"date_distance_days"`
	AmountDue        int64 `json:"amount_due"`
}

// SubjectType distinguishes what a suggestion or queue item is about.
type SubjectType string

const (
	SubjectTransaction SubjectType = "transaction"
	SubjectInvoice     SubjectType = "invoice"
	SubjectPattern     SubjectType = "pattern"
	SubjectLedgerEntry SubjectType = "ledger_entry"
)

// Suggestion is a machine-proposed accounting action. Regenerated whenever
// new evidence arrives; the review queue snapshots the one it was built from.
type Suggestion struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	SubjectID       string          `json:"subject_id"`
	SubjectType     SubjectType     `json:"subject_type"`
	ProposedAccount string          `json:"proposed_account"`
	ProposedVATCode string          `json:"proposed_vat_code"`
	Confidence      int             `json:"confidence"` // 0-100
	Reasoning       string          `json:"reasoning"`
	PatternID       string          `json:"pattern_id,omitempty"`
	Signals         MatchSignals    `json:"signals"`
	Candidate       *MatchCandidate `json:"candidate,omitempty"`

	// Candidates carries every tied alternative when the match was
	// ambiguous, so the reviewer sees all of them, not just the first.
	Candidates []MatchCandidate `json:"candidates,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ReviewStatus is the review queue state machine's state.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewInReview ReviewStatus = "in_review"
	ReviewResolved ReviewStatus = "resolved"
)

// Decision is the terminal outcome of a review item.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionCorrected Decision = "corrected"
	DecisionRejected  Decision = "rejected"
)

// Resolution records how a review item was closed. Terminal; a changed
// subject produces a new item rather than reopening this one.
type Resolution struct {
	Decision     Decision  `json:"decision"`
	Account      string    `json:"account,omitempty"`
	VATCode      string    `json:"vat_code,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Actor        string    `json:"actor"`
	BatchDerived bool      `json:"batch_derived"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// ReviewQueueItem holds one suggestion awaiting a human decision.
type ReviewQueueItem struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	SubjectID   string      `json:"subject_id"`
	SubjectType SubjectType `json:"subject_type"`

	// Subject snapshot, denormalized for similarity fan-out and pattern
	// signature building without a join back to the subject.
	SubjectVendorID    string `json:"subject_vendor_id,omitempty"`
	SubjectDescription string `json:"subject_description,omitempty"`
	SubjectAmount      int64  `json:"subject_amount,omitempty"`

	Priority         int          `json:"priority"`
	DueDate          time.Time    `json:"due_date"`
	Status           ReviewStatus `json:"status"`
	Suggestion       Suggestion   `json:"suggestion"` // snapshot at enqueue time
	Resolution       *Resolution  `json:"resolution,omitempty"`
	AppliesToSimilar bool         `json:"applies_to_similar"`
	Version          int64        `json:"version"`
	CreatedAt        time.Time    `json:"created_at"`
}

// PatternTrigger is the normalized signature a learned pattern fires on.
type PatternTrigger struct {
	VendorID      string `json:"vendor_id"`
	Keyword       string `json:"keyword"`
	AmountBracket string `json:"amount_bracket"`
}

// PatternAction is what a pattern proposes when it fires.
type PatternAction struct {
	Account string `json:"account"`
	VATCode string `json:"vat_code"`
}

// LearnedPattern is a trigger→action rule distilled from repeated human
// corrections. Scope lists the tenants allowed to read it; widening scope
// is an explicit promotion, never a scoring side effect.
type LearnedPattern struct {
	ID           string         `json:"id"`
	Trigger      PatternTrigger `json:"trigger"`
	Action       PatternAction  `json:"action"`
	SuccessRate  float64        `json:"success_rate"` // [0,1]
	Scope        []string       `json:"scope"`
	TimesApplied int            `json:"times_applied"`
	Active       bool           `json:"active"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// InScope reports whether the pattern may be read by the given tenant.
func (p *LearnedPattern) InScope(tenantID string) bool {
	for _, t := range p.Scope {
		if t == tenantID {
			return true
		}
	}
	return false
}

// LedgerLine is one leg of a double-entry posting.
type LedgerLine struct {
	Account string `json:"account"`
	VATCode string `json:"vat_code,omitempty"`
	Debit   int64  `json:"debit"`
	Credit  int64  `json:"credit"`
}

// LedgerSource says what authorized a posting.
type LedgerSource string

const (
	SourceSuggestion LedgerSource = "suggestion"
	SourceManual     LedgerSource = "manual"
)

// LedgerEntry is an append-only posting. Never altered in place; a
// correction posts an offsetting entry plus a new entry, both carrying
// ReversesEntryID back to the original.
type LedgerEntry struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenant_id"`
	Lines           []LedgerLine `json:"lines"`
	SourceType      LedgerSource `json:"source_type"`
	SourceID        string       `json:"source_id"`
	ReversesEntryID string       `json:"reverses_entry_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// DecisionEvent is one record in the append-only audit stream. Every
// routing decision, auto or manual, produces one.
type DecisionEvent struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	TenantID    string       `json:"tenant_id"`
	SubjectType SubjectType  `json:"subject_type"`
	SubjectID   string       `json:"subject_id"`
	Decision    string       `json:"decision"`
	Confidence  int          `json:"confidence"`
	Signals     MatchSignals `json:"signals"`
	Actor       string       `json:"actor"` // "system" or a user id
}

// UnappliedCredit records transaction money left over after an applied
// match hit an invoice's floor at zero. Never auto-matched further.
type UnappliedCredit struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	VendorID      string    `json:"vendor_id"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExceptionItem is a per-item failure surfaced to operators. The subject
// stays in its prior state; nothing is partially applied.
type ExceptionItem struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	SubjectID   string      `json:"subject_id"`
	SubjectType SubjectType `json:"subject_type"`
	Reason      string      `json:"reason"`
	OccurredAt  time.Time   `json:"occurred_at"`
}
