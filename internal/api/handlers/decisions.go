package handlers

import (
	"net/http"
	"time"

	"github.com/evenstad/reconcile-backend/internal/api/dto"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// DecisionsHandler serves the append-only audit stream.
type DecisionsHandler struct {
	*Base
}

// NewDecisionsHandler creates a new decisions handler.
func NewDecisionsHandler(repo storage.Repository) *DecisionsHandler {
	return &DecisionsHandler{Base: NewBase(repo)}
}

// List handles GET /api/decisions - returns recent decision events.
func (h *DecisionsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("tenant is required"))
		return
	}

	events, err := h.repo.ListDecisions(tenantID, ParseIntParam(r, "limit", 100))
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.DecisionListResponse{
		Decisions:  make([]dto.DecisionResponse, 0, len(events)),
		TotalCount: len(events),
	}
	for _, e := range events {
		response.Decisions = append(response.Decisions, dto.DecisionResponse{
			ID:          e.ID,
			Timestamp:   e.Timestamp.Format(time.RFC3339),
			TenantID:    e.TenantID,
			SubjectType: string(e.SubjectType),
			SubjectID:   e.SubjectID,
			Decision:    e.Decision,
			Confidence:  e.Confidence,
			Signals:     toSignalsResponse(e.Signals),
			Actor:       e.Actor,
		})
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// ExceptionsHandler serves the per-item failure list.
type ExceptionsHandler struct {
	*Base
}

// NewExceptionsHandler creates a new exceptions handler.
func NewExceptionsHandler(repo storage.Repository) *ExceptionsHandler {
	return &ExceptionsHandler{Base: NewBase(repo)}
}

// List handles GET /api/exceptions - returns failed items and reasons.
func (h *ExceptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("tenant is required"))
		return
	}

	exceptions, err := h.repo.ListExceptions(tenantID, ParseIntParam(r, "limit", 100))
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.ExceptionListResponse{
		Exceptions: make([]dto.ExceptionResponse, 0, len(exceptions)),
		TotalCount: len(exceptions),
	}
	for _, e := range exceptions {
		response.Exceptions = append(response.Exceptions, dto.ExceptionResponse{
			ID:          e.ID,
			TenantID:    e.TenantID,
			SubjectID:   e.SubjectID,
			SubjectType: string(e.SubjectType),
			Reason:      e.Reason,
			OccurredAt:  e.OccurredAt.Format(time.RFC3339),
		})
	}
	h.WriteJSON(w, http.StatusOK, response)
}
