package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/evenstad/reconcile-backend/internal/api/dto"
	"github.com/evenstad/reconcile-backend/internal/domain/model"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// Base provides shared functionality for all handlers.
type Base struct {
	repo storage.Repository
}

// NewBase creates a new base handler with the given repository.
func NewBase(repo storage.Repository) *Base {
	return &Base{repo: repo}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(w http.ResponseWriter, status int, err dto.APIError) {
	b.WriteJSON(w, status, err)
}

// WriteDomainError maps the error taxonomy to HTTP responses: validation
// to 400, policy violations and lost races to 409, everything else 500.
func (b *Base) WriteDomainError(w http.ResponseWriter, err error) {
	var validation *model.ValidationError
	if errors.As(err, &validation) {
		b.WriteError(w, http.StatusBadRequest, dto.ValidationError(validation.Error()))
		return
	}
	var policy *model.PolicyViolation
	if errors.As(err, &policy) {
		b.WriteError(w, http.StatusConflict, dto.PolicyViolationError(policy.Error()))
		return
	}
	var conflict *model.PersistenceConflict
	if errors.As(err, &conflict) {
		b.WriteError(w, http.StatusConflict, dto.ConflictError(conflict.Error()))
		return
	}
	b.WriteError(w, http.StatusInternalServerError, dto.InternalError())
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func toSignalsResponse(s model.MatchSignals) dto.SignalsResponse {
	return dto.SignalsResponse{
		AmountExact:            s.AmountExact,
		AmountScore:            s.AmountScore,
		ReferenceExact:         s.ReferenceExact,
		CounterpartySimilarity: s.CounterpartySimilarity,
		DateProximityDays:      s.DateProximityDays,
		DateScore:              s.DateScore,
	}
}

func toSuggestionResponse(s model.Suggestion) dto.SuggestionResponse {
	resp := dto.SuggestionResponse{
		ID:              s.ID,
		SubjectID:       s.SubjectID,
		SubjectType:     string(s.SubjectType),
		ProposedAccount: s.ProposedAccount,
		ProposedVATCode: s.ProposedVATCode,
		Confidence:      s.Confidence,
		Reasoning:       s.Reasoning,
		PatternID:       s.PatternID,
		Signals:         toSignalsResponse(s.Signals),
	}
	for _, c := range s.Candidates {
		resp.Candidates = append(resp.Candidates, dto.CandidateResponse{
			TransactionID:  c.TransactionID,
			TransactionIDs: c.TransactionIDs,
			InvoiceIDs:     c.InvoiceIDs,
			Score:          c.Score,
			Signals:        toSignalsResponse(c.Signals),
		})
	}
	return resp
}
