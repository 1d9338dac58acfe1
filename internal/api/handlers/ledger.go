package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evenstad/reconcile-backend/internal/api/dto"
	"github.com/evenstad/reconcile-backend/internal/application/pipeline"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// LedgerHandler serves the append-only posting journal and the
// correction operation on it.
type LedgerHandler struct {
	*Base
	pipe *pipeline.Pipeline
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(repo storage.Repository, pipe *pipeline.Pipeline) *LedgerHandler {
	return &LedgerHandler{
		Base: NewBase(repo),
		pipe: pipe,
	}
}

// List handles GET /api/ledger - returns a tenant's postings, newest
// first.
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("tenant is required"))
		return
	}

	entries, err := h.repo.ListEntries(tenantID, ParseIntParam(r, "limit", 100))
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.LedgerListResponse{
		Entries:    make([]dto.LedgerEntryResponse, 0, len(entries)),
		TotalCount: len(entries),
	}
	for _, e := range entries {
		response.Entries = append(response.Entries, toLedgerEntryResponse(&e))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Correct handles POST /api/ledger/{id}/correct - posts a reversal plus
// a corrected entry for a posted entry. The original is never altered.
func (h *LedgerHandler) Correct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("entry ID is required"))
		return
	}

	var req dto.CorrectEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid JSON body"))
		return
	}
	if req.TenantID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("tenant_id is required"))
		return
	}

	action := model.PatternAction{Account: req.Account, VATCode: req.VATCode}
	rev, corrected, err := h.pipe.CorrectPosting(r.Context(), req.TenantID, id, action, req.Actor)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.CorrectEntryResponse{
		ReversalEntry:  toLedgerEntryResponse(rev),
		CorrectedEntry: toLedgerEntryResponse(corrected),
	})
}

func toLedgerEntryResponse(e *model.LedgerEntry) dto.LedgerEntryResponse {
	resp := dto.LedgerEntryResponse{
		ID:              e.ID,
		TenantID:        e.TenantID,
		Lines:           make([]dto.LedgerLineResponse, 0, len(e.Lines)),
		SourceType:      string(e.SourceType),
		SourceID:        e.SourceID,
		ReversesEntryID: e.ReversesEntryID,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range e.Lines {
		resp.Lines = append(resp.Lines, dto.LedgerLineResponse{
			Account: l.Account,
			VATCode: l.VATCode,
			Debit:   l.Debit,
			Credit:  l.Credit,
		})
	}
	return resp
}
