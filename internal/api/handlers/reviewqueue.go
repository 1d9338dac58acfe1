package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evenstad/reconcile-backend/internal/api/dto"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/domain/reviewqueue"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// ReviewQueueHandler handles review queue HTTP requests.
type ReviewQueueHandler struct {
	*Base
	queue *reviewqueue.Service
}

// NewReviewQueueHandler creates a new review queue handler.
func NewReviewQueueHandler(repo storage.Repository, queue *reviewqueue.Service) *ReviewQueueHandler {
	return &ReviewQueueHandler{
		Base:  NewBase(repo),
		queue: queue,
	}
}

// List handles GET /api/review-queue - returns queue items in working
// order: priority desc, due date asc, created asc.
func (h *ReviewQueueHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("tenant is required"))
		return
	}

	filters := storage.ReviewQueueFilters{
		TenantID:    tenantID,
		Status:      model.ReviewStatus(r.URL.Query().Get("status")),
		MinPriority: ParseIntParam(r, "priority", 0),
		Limit:       ParseIntParam(r, "limit", 50),
	}

	items, err := h.repo.ListItems(filters)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.ReviewListResponse{
		Items:      make([]dto.ReviewItemResponse, 0, len(items)),
		TotalCount: len(items),
	}
	for _, item := range items {
		response.Items = append(response.Items, toReviewItemResponse(item))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Open handles POST /api/review-queue/{id}/open - marks an item in_review.
func (h *ReviewQueueHandler) Open(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("item ID is required"))
		return
	}
	if err := h.queue.Open(id); err != nil {
		h.WriteDomainError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": string(model.ReviewInReview)})
}

// Resolve handles POST /api/review-queue/{id}/resolve.
func (h *ReviewQueueHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("item ID is required"))
		return
	}

	var req dto.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid JSON body"))
		return
	}

	outcome, err := h.queue.Resolve(r.Context(), id, reviewqueue.ResolveRequest{
		Decision:        model.Decision(req.Decision),
		Account:         req.Account,
		VATCode:         req.VATCode,
		Reason:          req.Reason,
		Actor:           req.Actor,
		ApplyToSimilar:  req.ApplyToSimilar,
		SimilarityScope: reviewqueue.Scope(req.SimilarityScope),
	})
	if err != nil {
		h.WriteDomainError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.ResolveResponse{
		ItemID:        outcome.Item.ID,
		Status:        string(outcome.Item.Status),
		Decision:      req.Decision,
		FanOutApplied: outcome.FanOutApplied,
		FanOutFailed:  outcome.FanOutFailed,
		FanOutErrors:  outcome.FanOutErrors,
	})
}

func toReviewItemResponse(item model.ReviewQueueItem) dto.ReviewItemResponse {
	return dto.ReviewItemResponse{
		ID:          item.ID,
		TenantID:    item.TenantID,
		SubjectID:   item.SubjectID,
		SubjectType: string(item.SubjectType),
		VendorID:    item.SubjectVendorID,
		Description: item.SubjectDescription,
		Amount:      item.SubjectAmount,
		Priority:    item.Priority,
		DueDate:     item.DueDate.Format("2006-01-02"),
		Status:      string(item.Status),
		Suggestion:  toSuggestionResponse(item.Suggestion),
		CreatedAt:   item.CreatedAt.Format(time.RFC3339),
	}
}
