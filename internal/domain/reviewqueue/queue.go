// Package reviewqueue implements the human-review state machine:
// pending → in_review → resolved(approved|corrected|rejected), terminal at
// resolved.
//
// Opening an item is advisory only; any number of reviewers may look at
// it. The resolving write is serialized through an optimistic
// status-and-version check in the store, so a viewer who disconnects
// never stalls the item and a second resolution attempt is rejected
// without state change.
package reviewqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// Store persists review queue items. ResolveItem must be optimistic:
// guard on version and non-terminal status, returning
// *model.PersistenceConflict on a lost race and *model.PolicyViolation on
// a terminal item. RevertResolution is the compensation for a resolve
// whose follow-up posting failed; it puts the item back in its prior
// status with the resolution cleared.
type Store interface {
	GetItem(id string) (*model.ReviewQueueItem, error)
	InsertItem(item *model.ReviewQueueItem) error
	MarkInReview(id string) error
	ResolveItem(id string, version int64, res model.Resolution) error
	RevertResolution(id string, version int64, status model.ReviewStatus) error
	ListPending(tenantID string) ([]model.ReviewQueueItem, error)
	ReturnSubject(item *model.ReviewQueueItem) error
}

// Poster commits a resolved item's accounting action to the ledger under
// the tenant's serialization rules.
type Poster interface {
	ApplyApproved(ctx context.Context, item *model.ReviewQueueItem) error
	ApplyCorrected(ctx context.Context, item *model.ReviewQueueItem, action model.PatternAction) error
}

// Learner receives correction events and pattern attributions.
type Learner interface {
	RecordCorrection(tenantID, vendorID, description string, amount int64, suggested, corrected model.PatternAction) (*model.LearnedPattern, error)
	Confirm(patternID string) (*model.LearnedPattern, error)
	Contradict(patternID string) (*model.LearnedPattern, error)
}

// DecisionLogger appends to the immutable audit stream.
type DecisionLogger interface {
	LogDecision(e model.DecisionEvent) error
}

// ExceptionSink surfaces a failed decision write to operators.
type ExceptionSink interface {
	AddException(e *model.ExceptionItem) error
}

// Rescorer re-scores pending items affected by a pattern change.
type Rescorer interface {
	RescorePending(ctx context.Context, p *model.LearnedPattern)
}

// Service drives the review queue.
type Service struct {
	store      Store
	poster     Poster
	learner    Learner
	decisions  DecisionLogger
	exceptions ExceptionSink
	logger     *slog.Logger
	rescorer   Rescorer

	// fanOutWorkers bounds the apply-to-similar pool.
	fanOutWorkers int
}

// SetRescorer wires the component that refreshes pending suggestions
// after a learned pattern changes. Optional.
func (s *Service) SetRescorer(r Rescorer) {
	s.rescorer = r
}

// NewService wires a review queue service.
func NewService(store Store, poster Poster, learner Learner, decisions DecisionLogger, exceptions ExceptionSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         store,
		poster:        poster,
		learner:       learner,
		decisions:     decisions,
		exceptions:    exceptions,
		logger:        logger,
		fanOutWorkers: 4,
	}
}

// Enqueue creates a pending item from a suggestion snapshot.
func (s *Service) Enqueue(sugg model.Suggestion, priority int, dueDate time.Time, vendorID, description string, amount int64) (*model.ReviewQueueItem, error) {
	item := &model.ReviewQueueItem{
		ID:                 uuid.NewString(),
		TenantID:           sugg.TenantID,
		SubjectID:          sugg.SubjectID,
		SubjectType:        sugg.SubjectType,
		SubjectVendorID:    vendorID,
		SubjectDescription: description,
		SubjectAmount:      amount,
		Priority:           priority,
		DueDate:            dueDate,
		Status:             model.ReviewPending,
		Suggestion:         sugg,
		Version:            1,
		CreatedAt:          time.Now(),
	}
	if err := s.store.InsertItem(item); err != nil {
		return nil, err
	}
	s.logger.Info("enqueued for review",
		"item", item.ID, "tenant", item.TenantID,
		"subject", item.SubjectID, "confidence", sugg.Confidence)
	return item, nil
}

// Open marks an item in_review. Advisory: concurrent viewers are fine and
// opening an already-open item succeeds. Opening a resolved item is a
// policy violation.
func (s *Service) Open(id string) error {
	item, err := s.store.GetItem(id)
	if err != nil {
		return err
	}
	if item == nil {
		return &model.PolicyViolation{Op: "open item", Reason: "item not found"}
	}
	switch item.Status {
	case model.ReviewResolved:
		return &model.PolicyViolation{Op: "open item", Reason: "item already resolved"}
	case model.ReviewInReview:
		return nil
	}
	return s.store.MarkInReview(id)
}

// ResolveRequest carries a human decision.
type ResolveRequest struct {
	Decision        model.Decision
	Account         string
	VATCode         string
	Reason          string
	Actor           string
	ApplyToSimilar  bool
	SimilarityScope Scope
}

// Outcome reports what a resolution did, including fan-out counts.
type Outcome struct {
	Item          *model.ReviewQueueItem
	FanOutApplied int
	FanOutFailed  int
	FanOutErrors  []string
}

// Resolve closes an item with the given decision. Terminal: a second
// attempt against the same item is rejected with no state change.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest) (*Outcome, error) {
	item, err := s.store.GetItem(id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &model.PolicyViolation{Op: "resolve item", Reason: "item not found"}
	}
	if item.Status == model.ReviewResolved {
		return nil, &model.PolicyViolation{Op: "resolve item", Reason: "item already resolved"}
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	res := model.Resolution{
		Decision:   req.Decision,
		Account:    req.Account,
		VATCode:    req.VATCode,
		Reason:     req.Reason,
		Actor:      req.Actor,
		ResolvedAt: time.Now(),
	}

	// Serialize the resolving write; losers of the race get the conflict.
	prior := item.Status
	if err := s.store.ResolveItem(item.ID, item.Version, res); err != nil {
		return nil, err
	}
	item.Status = model.ReviewResolved
	item.Resolution = &res
	item.Version++

	outcome := &Outcome{Item: item}
	switch req.Decision {
	case model.DecisionApproved:
		err = s.applyApproved(ctx, item, req.Actor)
	case model.DecisionCorrected:
		err = s.applyCorrected(ctx, item, req, outcome)
	case model.DecisionRejected:
		err = s.applyRejected(item, req.Actor)
	}
	if err != nil {
		// The decision's write failed. Abort the whole resolution: the
		// item goes back to its prior state so it can be resolved again,
		// and the failure lands on the exception list.
		s.revertResolution(item, prior, err)
		return nil, err
	}
	return outcome, nil
}

// revertResolution compensates a resolve whose follow-up write failed.
func (s *Service) revertResolution(item *model.ReviewQueueItem, prior model.ReviewStatus, cause error) {
	if err := s.store.RevertResolution(item.ID, item.Version, prior); err != nil {
		s.logger.Error("resolution revert failed", "item", item.ID, "error", err)
	} else {
		item.Status = prior
		item.Resolution = nil
		item.Version++
	}
	s.recordException(item, cause)
}

func (s *Service) recordException(item *model.ReviewQueueItem, cause error) {
	e := &model.ExceptionItem{
		ID:          uuid.NewString(),
		TenantID:    item.TenantID,
		SubjectID:   item.SubjectID,
		SubjectType: item.SubjectType,
		Reason:      cause.Error(),
		OccurredAt:  time.Now(),
	}
	if err := s.exceptions.AddException(e); err != nil {
		s.logger.Error("exception not recorded", "subject", item.SubjectID, "error", err)
	}
}

func validateRequest(req ResolveRequest) error {
	switch req.Decision {
	case model.DecisionApproved:
	case model.DecisionCorrected:
		if req.Account == "" {
			return &model.ValidationError{Field: "account", Reason: "a correction needs an account"}
		}
	case model.DecisionRejected:
		if req.Reason == "" {
			return &model.ValidationError{Field: "reason", Reason: "a rejection needs a reason"}
		}
	default:
		return &model.ValidationError{Field: "decision", Reason: "unknown decision"}
	}
	if req.Actor == "" {
		return &model.ValidationError{Field: "actor", Reason: "missing actor"}
	}
	return nil
}

func (s *Service) applyApproved(ctx context.Context, item *model.ReviewQueueItem, actor string) error {
	if err := s.poster.ApplyApproved(ctx, item); err != nil {
		return err
	}
	// Approving a pattern-backed suggestion confirms the pattern.
	if pid := item.Suggestion.PatternID; pid != "" {
		if _, err := s.learner.Confirm(pid); err != nil {
			s.logger.Warn("pattern confirm failed", "pattern", pid, "error", err)
		}
	}
	s.logDecision(item, string(model.DecisionApproved), actor)
	return nil
}

func (s *Service) applyCorrected(ctx context.Context, item *model.ReviewQueueItem, req ResolveRequest, outcome *Outcome) error {
	action := model.PatternAction{Account: req.Account, VATCode: req.VATCode}
	if err := s.poster.ApplyCorrected(ctx, item, action); err != nil {
		return err
	}

	suggested := model.PatternAction{
		Account: item.Suggestion.ProposedAccount,
		VATCode: item.Suggestion.ProposedVATCode,
	}
	pattern, err := s.learner.RecordCorrection(
		item.TenantID, item.SubjectVendorID, item.SubjectDescription,
		item.SubjectAmount, suggested, action,
	)
	if err != nil {
		s.logger.Warn("correction not recorded", "item", item.ID, "error", err)
	} else if pattern != nil && s.rescorer != nil {
		s.rescorer.RescorePending(ctx, pattern)
	}
	if pid := item.Suggestion.PatternID; pid != "" {
		if _, err := s.learner.Contradict(pid); err != nil {
			s.logger.Warn("pattern contradict failed", "pattern", pid, "error", err)
		}
	}
	s.logDecision(item, string(model.DecisionCorrected), req.Actor)

	if req.ApplyToSimilar {
		applied, failed, errs := s.fanOut(ctx, item, req)
		outcome.FanOutApplied = applied
		outcome.FanOutFailed = failed
		outcome.FanOutErrors = errs
	}
	return nil
}

func (s *Service) applyRejected(item *model.ReviewQueueItem, actor string) error {
	// Nothing is posted; the subject goes back to unmatched/unclassified
	// for later reprocessing.
	if err := s.store.ReturnSubject(item); err != nil {
		return err
	}
	s.logDecision(item, string(model.DecisionRejected), actor)
	return nil
}

func (s *Service) logDecision(item *model.ReviewQueueItem, decision, actor string) {
	event := model.DecisionEvent{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		TenantID:    item.TenantID,
		SubjectType: item.SubjectType,
		SubjectID:   item.SubjectID,
		Decision:    decision,
		Confidence:  item.Suggestion.Confidence,
		Signals:     item.Suggestion.Signals,
		Actor:       actor,
	}
	if err := s.decisions.LogDecision(event); err != nil {
		s.logger.Error("decision log append failed", "subject", item.SubjectID, "error", err)
	}
}
