package dto

// TransactionRequest is the body for ingesting a bank transaction.
// Amount is signed minor units; date is ISO "2006-01-02".
type TransactionRequest struct {
	ID               string `json:"id,omitempty"`
	TenantID         string `json:"tenant_id"`
	Date             string `json:"date"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	CounterpartyText string `json:"counterparty_text"`
	ReferenceCode    string `json:"reference_code,omitempty"`
}

// InvoiceRequest is the body for ingesting a vendor invoice.
type InvoiceRequest struct {
	ID            string   `json:"id,omitempty"`
	TenantID      string   `json:"tenant_id"`
	VendorID      string   `json:"vendor_id"`
	VendorName    string   `json:"vendor_name"`
	VendorAliases []string `json:"vendor_aliases,omitempty"`
	InvoiceNumber string   `json:"invoice_number"`
	ReferenceCode string   `json:"reference_code,omitempty"`
	Description   string   `json:"description"`
	DueDate       string   `json:"due_date"`
	AmountDue     int64    `json:"amount_due"`
	Currency      string   `json:"currency"`
}

// ResolveRequest is the body for resolving a review queue item.
type ResolveRequest struct {
	Decision        string `json:"decision"`
	Account         string `json:"account,omitempty"`
	VATCode         string `json:"vat_code,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Actor           string `json:"actor"`
	ApplyToSimilar  bool   `json:"apply_to_similar,omitempty"`
	SimilarityScope string `json:"similarity_scope,omitempty"`
}

// CorrectEntryRequest is the body for correcting a posted ledger entry.
// The entry itself is never altered; the correction posts a reversal
// plus a new entry under the given account and VAT code.
type CorrectEntryRequest struct {
	TenantID string `json:"tenant_id"`
	Account  string `json:"account"`
	VATCode  string `json:"vat_code,omitempty"`
	Actor    string `json:"actor"`
}

// PromoteRequest is the body for widening a pattern's tenant scope.
type PromoteRequest struct {
	TenantIDs []string `json:"tenant_ids"`
	Actor     string   `json:"actor"`
}
