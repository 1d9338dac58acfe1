package pipeline

import (
	"strings"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

func validateTransaction(tx *model.Transaction) error {
	if tx == nil {
		return &model.ValidationError{Field: "transaction", Reason: "missing body"}
	}
	if tx.TenantID == "" {
		return &model.ValidationError{Field: "tenant_id", Reason: "missing tenant"}
	}
	if tx.Amount == 0 {
		return &model.ValidationError{Field: "amount", Reason: "zero amount"}
	}
	if err := validateCurrency(tx.Currency); err != nil {
		return err
	}
	if tx.Date.IsZero() {
		return &model.ValidationError{Field: "date", Reason: "missing date"}
	}
	if strings.TrimSpace(tx.CounterpartyText) == "" {
		return &model.ValidationError{Field: "counterparty_text", Reason: "missing counterparty"}
	}
	return nil
}

func validateInvoice(inv *model.Invoice) error {
	if inv == nil {
		return &model.ValidationError{Field: "invoice", Reason: "missing body"}
	}
	if inv.TenantID == "" {
		return &model.ValidationError{Field: "tenant_id", Reason: "missing tenant"}
	}
	if inv.VendorID == "" {
		return &model.ValidationError{Field: "vendor_id", Reason: "missing vendor"}
	}
	if inv.AmountDue <= 0 {
		return &model.ValidationError{Field: "amount_due", Reason: "amount due must be positive"}
	}
	if err := validateCurrency(inv.Currency); err != nil {
		return err
	}
	if inv.DueDate.IsZero() {
		return &model.ValidationError{Field: "due_date", Reason: "missing due date"}
	}
	return nil
}

// validateCurrency accepts ISO-4217 alphabetic codes.
func validateCurrency(code string) error {
	if len(code) != 3 {
		return &model.ValidationError{Field: "currency", Reason: "currency must be a 3-letter ISO code"}
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return &model.ValidationError{Field: "currency", Reason: "currency must be uppercase letters"}
		}
	}
	return nil
}
