package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evenstad/reconcile-backend/internal/api/dto"
	"github.com/evenstad/reconcile-backend/internal/application/pipeline"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// IngestHandler accepts bank transactions and vendor invoices and runs
// them through the reconciliation pipeline synchronously.
type IngestHandler struct {
	*Base
	pipe *pipeline.Pipeline
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(repo storage.Repository, pipe *pipeline.Pipeline) *IngestHandler {
	return &IngestHandler{
		Base: NewBase(repo),
		pipe: pipe,
	}
}

// CreateTransaction handles POST /api/transactions.
func (h *IngestHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req dto.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid JSON body"))
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid date, want YYYY-MM-DD"))
		return
	}

	tx := &model.Transaction{
		ID:               req.ID,
		TenantID:         req.TenantID,
		Date:             date,
		Amount:           req.Amount,
		Currency:         req.Currency,
		CounterpartyText: req.CounterpartyText,
		ReferenceCode:    req.ReferenceCode,
	}
	if err := h.pipe.IngestTransaction(r.Context(), tx); err != nil {
		h.WriteDomainError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusAccepted, dto.IngestResponse{
		ID:     tx.ID,
		Status: string(tx.Status),
	})
}

// CreateInvoice handles POST /api/invoices.
func (h *IngestHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req dto.InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid JSON body"))
		return
	}

	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid due_date, want YYYY-MM-DD"))
		return
	}

	inv := &model.Invoice{
		ID:            req.ID,
		TenantID:      req.TenantID,
		VendorID:      req.VendorID,
		VendorName:    req.VendorName,
		VendorAliases: req.VendorAliases,
		InvoiceNumber: req.InvoiceNumber,
		ReferenceCode: req.ReferenceCode,
		Description:   req.Description,
		DueDate:       dueDate,
		AmountDue:     req.AmountDue,
		Currency:      req.Currency,
	}
	if err := h.pipe.IngestInvoice(r.Context(), inv); err != nil {
		h.WriteDomainError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusAccepted, dto.IngestResponse{
		ID:     inv.ID,
		Status: string(inv.Status),
	})
}

// parseDate accepts ISO date or full RFC3339 timestamps.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
