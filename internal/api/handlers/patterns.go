package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evenstad/reconcile-backend/internal/api/dto"
	"github.com/evenstad/reconcile-backend/internal/application/pipeline"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// PatternsHandler serves learned patterns and the explicit promotion
// operation.
type PatternsHandler struct {
	*Base
	pipe *pipeline.Pipeline
}

// NewPatternsHandler creates a new patterns handler.
func NewPatternsHandler(repo storage.Repository, pipe *pipeline.Pipeline) *PatternsHandler {
	return &PatternsHandler{
		Base: NewBase(repo),
		pipe: pipe,
	}
}

// List handles GET /api/patterns - returns the active patterns whose scope
// includes the tenant.
func (h *PatternsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("tenant is required"))
		return
	}

	patterns, err := h.repo.ActivePatternsForTenant(tenantID)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.PatternListResponse{
		Patterns:   make([]dto.PatternResponse, 0, len(patterns)),
		TotalCount: len(patterns),
	}
	for _, p := range patterns {
		response.Patterns = append(response.Patterns, toPatternResponse(&p))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Promote handles POST /api/patterns/{id}/promote - widens a pattern's
// tenant scope. Rejected below the promotion bound.
func (h *PatternsHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("pattern ID is required"))
		return
	}

	var req dto.PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid JSON body"))
		return
	}
	if len(req.TenantIDs) == 0 {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("tenant_ids is required"))
		return
	}
	if req.Actor == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("actor is required"))
		return
	}

	pattern, err := h.pipe.PromotePattern(id, req.TenantIDs, req.Actor)
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, toPatternResponse(pattern))
}

func toPatternResponse(p *model.LearnedPattern) dto.PatternResponse {
	return dto.PatternResponse{
		ID:            p.ID,
		VendorID:      p.Trigger.VendorID,
		Keyword:       p.Trigger.Keyword,
		AmountBracket: p.Trigger.AmountBracket,
		Account:       p.Action.Account,
		VATCode:       p.Action.VATCode,
		SuccessRate:   p.SuccessRate,
		Scope:         p.Scope,
		TimesApplied:  p.TimesApplied,
		Active:        p.Active,
	}
}
