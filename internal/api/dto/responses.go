package dto

import "time"

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a healthy response stamped with the current time.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// IngestResponse acknowledges an accepted transaction or invoice.
type IngestResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SignalsResponse is the signal breakdown behind a suggestion.
type SignalsResponse struct {
	AmountExact            bool    `json:"amount_exact"`
	AmountScore            float64 `json:"amount_score"`
	ReferenceExact         bool    `json:"reference_exact"`
	CounterpartySimilarity float64 `json:"counterparty_similarity"`
	DateProximityDays      int     `json:"date_proximity_days"`
	DateScore              float64 `json:"date_score"`
}

// CandidateResponse is one scored pairing behind a suggestion. Present
// on ambiguous suggestions, where every tied alternative is exposed to
// the reviewer.
type CandidateResponse struct {
	TransactionID  string          `json:"transaction_id"`
	TransactionIDs []string        `json:"transaction_ids,omitempty"`
	InvoiceIDs     []string        `json:"invoice_ids"`
	Score          float64         `json:"score"`
	Signals        SignalsResponse `json:"signals"`
}

// SuggestionResponse represents a machine suggestion in API responses.
type SuggestionResponse struct {
	ID              string              `json:"id"`
	SubjectID       string              `json:"subject_id"`
	SubjectType     string              `json:"subject_type"`
	ProposedAccount string              `json:"proposed_account"`
	ProposedVATCode string              `json:"proposed_vat_code,omitempty"`
	Confidence      int                 `json:"confidence"`
	Reasoning       string              `json:"reasoning"`
	PatternID       string              `json:"pattern_id,omitempty"`
	Signals         SignalsResponse     `json:"signals"`
	Candidates      []CandidateResponse `json:"candidates,omitempty"`
}

// ReviewItemResponse represents a review queue item in API responses.
type ReviewItemResponse struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	SubjectID   string             `json:"subject_id"`
	SubjectType string             `json:"subject_type"`
	VendorID    string             `json:"vendor_id,omitempty"`
	Description string             `json:"description,omitempty"`
	Amount      int64              `json:"amount"`
	Priority    int                `json:"priority"`
	DueDate     string             `json:"due_date"`
	Status      string             `json:"status"`
	Suggestion  SuggestionResponse `json:"suggestion"`
	CreatedAt   string             `json:"created_at"`
}

// ReviewListResponse is returned when listing the review queue.
type ReviewListResponse struct {
	Items      []ReviewItemResponse `json:"items"`
	TotalCount int                  `json:"total_count"`
}

// ResolveResponse reports what a resolution did, including fan-out counts.
type ResolveResponse struct {
	ItemID        string   `json:"item_id"`
	Status        string   `json:"status"`
	Decision      string   `json:"decision"`
	FanOutApplied int      `json:"fan_out_applied,omitempty"`
	FanOutFailed  int      `json:"fan_out_failed,omitempty"`
	FanOutErrors  []string `json:"fan_out_errors,omitempty"`
}

// DecisionResponse is one record of the audit stream.
type DecisionResponse struct {
	ID          string          `json:"id"`
	Timestamp   string          `json:"timestamp"`
	TenantID    string          `json:"tenant_id"`
	SubjectType string          `json:"subject_type"`
	SubjectID   string          `json:"subject_id"`
	Decision    string          `json:"decision"`
	Confidence  int             `json:"confidence"`
	Signals     SignalsResponse `json:"signals"`
	Actor       string          `json:"actor"`
}

// DecisionListResponse is returned when listing the audit stream.
type DecisionListResponse struct {
	Decisions  []DecisionResponse `json:"decisions"`
	TotalCount int                `json:"total_count"`
}

// ExceptionResponse is one surfaced per-item failure.
type ExceptionResponse struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	SubjectID   string `json:"subject_id"`
	SubjectType string `json:"subject_type"`
	Reason      string `json:"reason"`
	OccurredAt  string `json:"occurred_at"`
}

// ExceptionListResponse is returned when listing exceptions.
type ExceptionListResponse struct {
	Exceptions []ExceptionResponse `json:"exceptions"`
	TotalCount int                 `json:"total_count"`
}

// LedgerLineResponse is one leg of a posting.
type LedgerLineResponse struct {
	Account string `json:"account"`
	VATCode string `json:"vat_code,omitempty"`
	Debit   int64  `json:"debit"`
	Credit  int64  `json:"credit"`
}

// LedgerEntryResponse represents a posting in API responses.
type LedgerEntryResponse struct {
	ID              string               `json:"id"`
	TenantID        string               `json:"tenant_id"`
	Lines           []LedgerLineResponse `json:"lines"`
	SourceType      string               `json:"source_type"`
	SourceID        string               `json:"source_id"`
	ReversesEntryID string               `json:"reverses_entry_id,omitempty"`
	CreatedAt       string               `json:"created_at"`
}

// LedgerListResponse is returned when listing a tenant's postings.
type LedgerListResponse struct {
	Entries    []LedgerEntryResponse `json:"entries"`
	TotalCount int                   `json:"total_count"`
}

// CorrectEntryResponse reports the reversal and replacement a correction
// posted.
type CorrectEntryResponse struct {
	ReversalEntry  LedgerEntryResponse `json:"reversal_entry"`
	CorrectedEntry LedgerEntryResponse `json:"corrected_entry"`
}

// PatternResponse represents a learned pattern in API responses.
type PatternResponse struct {
	ID            string   `json:"id"`
	VendorID      string   `json:"vendor_id"`
	Keyword       string   `json:"keyword"`
	AmountBracket string   `json:"amount_bracket"`
	Account       string   `json:"account"`
	VATCode       string   `json:"vat_code,omitempty"`
	SuccessRate   float64  `json:"success_rate"`
	Scope         []string `json:"scope"`
	TimesApplied  int      `json:"times_applied"`
	Active        bool     `json:"active"`
}

// PatternListResponse is returned when listing patterns.
type PatternListResponse struct {
	Patterns   []PatternResponse `json:"patterns"`
	TotalCount int               `json:"total_count"`
}
