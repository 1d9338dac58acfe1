package reviewqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

type fakeQueueStore struct {
	items map[string]*model.ReviewQueueItem

	// resolveErrs injects a failure for a specific item ID.
	resolveErrs map[string]error
	returned    []string
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		items:       make(map[string]*model.ReviewQueueItem),
		resolveErrs: make(map[string]error),
	}
}

func (f *fakeQueueStore) GetItem(id string) (*model.ReviewQueueItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (f *fakeQueueStore) InsertItem(item *model.ReviewQueueItem) error {
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeQueueStore) MarkInReview(id string) error {
	f.items[id].Status = model.ReviewInReview
	return nil
}

func (f *fakeQueueStore) ResolveItem(id string, version int64, res model.Resolution) error {
	if err := f.resolveErrs[id]; err != nil {
		return err
	}
	item, ok := f.items[id]
	if !ok {
		return &model.PolicyViolation{Op: "resolve item", Reason: "item not found"}
	}
	if item.Status == model.ReviewResolved {
		return &model.PolicyViolation{Op: "resolve item", Reason: "item already resolved"}
	}
	if item.Version != version {
		return &model.PersistenceConflict{Entity: "review_queue_item", ID: id}
	}
	item.Status = model.ReviewResolved
	item.Resolution = &res
	item.Version++
	return nil
}

func (f *fakeQueueStore) RevertResolution(id string, version int64, status model.ReviewStatus) error {
	item, ok := f.items[id]
	if !ok || item.Status != model.ReviewResolved || item.Version != version {
		return &model.PersistenceConflict{Entity: "review_queue_item", ID: id}
	}
	item.Status = status
	item.Resolution = nil
	item.Version++
	return nil
}

func (f *fakeQueueStore) ListPending(tenantID string) ([]model.ReviewQueueItem, error) {
	var out []model.ReviewQueueItem
	for _, item := range f.items {
		if item.TenantID == tenantID && item.Status == model.ReviewPending {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *fakeQueueStore) ReturnSubject(item *model.ReviewQueueItem) error {
	f.returned = append(f.returned, item.SubjectID)
	return nil
}

type fakePoster struct {
	approved  []string
	corrected []string
	failFor   map[string]error
}

func newFakePoster() *fakePoster {
	return &fakePoster{failFor: make(map[string]error)}
}

func (f *fakePoster) ApplyApproved(ctx context.Context, item *model.ReviewQueueItem) error {
	if err := f.failFor[item.ID]; err != nil {
		return err
	}
	f.approved = append(f.approved, item.ID)
	return nil
}

func (f *fakePoster) ApplyCorrected(ctx context.Context, item *model.ReviewQueueItem, action model.PatternAction) error {
	if err := f.failFor[item.ID]; err != nil {
		return err
	}
	f.corrected = append(f.corrected, item.ID)
	return nil
}

type fakeLearner struct {
	confirmed    []string
	contradicted []string
	recorded     int
	pattern      *model.LearnedPattern
}

func (f *fakeLearner) RecordCorrection(tenantID, vendorID, description string, amount int64, suggested, corrected model.PatternAction) (*model.LearnedPattern, error) {
	f.recorded++
	return f.pattern, nil
}

func (f *fakeLearner) Confirm(patternID string) (*model.LearnedPattern, error) {
	f.confirmed = append(f.confirmed, patternID)
	return nil, nil
}

func (f *fakeLearner) Contradict(patternID string) (*model.LearnedPattern, error) {
	f.contradicted = append(f.contradicted, patternID)
	return nil, nil
}

type fakeDecisions struct {
	events []model.DecisionEvent
}

func (f *fakeDecisions) LogDecision(e model.DecisionEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fakeExceptions struct {
	items []model.ExceptionItem
}

func (f *fakeExceptions) AddException(e *model.ExceptionItem) error {
	f.items = append(f.items, *e)
	return nil
}

type fakeRescorer struct {
	patterns []*model.LearnedPattern
}

func (f *fakeRescorer) RescorePending(ctx context.Context, p *model.LearnedPattern) {
	f.patterns = append(f.patterns, p)
}

func testSuggestion(patternID string) model.Suggestion {
	return model.Suggestion{
		ID:              "sugg-1",
		TenantID:        "tenant-1",
		SubjectID:       "tx-1",
		SubjectType:     model.SubjectTransaction,
		ProposedAccount: "6790",
		Confidence:      72,
		PatternID:       patternID,
	}
}

func newTestService(store *fakeQueueStore, poster *fakePoster, learner *fakeLearner, decisions *fakeDecisions) (*Service, *fakeExceptions) {
	exceptions := &fakeExceptions{}
	return NewService(store, poster, learner, decisions, exceptions, nil), exceptions
}

func enqueue(t *testing.T, s *Service, vendorID, description string, amount int64) *model.ReviewQueueItem {
	t.Helper()
	item, err := s.Enqueue(testSuggestion(""), 1, time.Now(), vendorID, description, amount)
	require.NoError(t, err)
	return item
}

func TestEnqueue(t *testing.T) {
	store := newFakeQueueStore()
	s, _ := newTestService(store, newFakePoster(), &fakeLearner{}, &fakeDecisions{})

	item := enqueue(t, s, "vendor-1", "Software subscription", 50000)
	assert.Equal(t, model.ReviewPending, item.Status)
	assert.Equal(t, int64(1), item.Version)
	assert.Equal(t, "vendor-1", item.SubjectVendorID)
	assert.NotEmpty(t, item.ID)
}

func TestOpen(t *testing.T) {
	store := newFakeQueueStore()
	s, _ := newTestService(store, newFakePoster(), &fakeLearner{}, &fakeDecisions{})
	item := enqueue(t, s, "vendor-1", "desc", 100)

	require.NoError(t, s.Open(item.ID))
	assert.Equal(t, model.ReviewInReview, store.items[item.ID].Status)

	// Advisory: opening again succeeds without state change.
	require.NoError(t, s.Open(item.ID))

	store.items[item.ID].Status = model.ReviewResolved
	var policy *model.PolicyViolation
	require.ErrorAs(t, s.Open(item.ID), &policy)

	require.ErrorAs(t, s.Open("missing"), &policy)
}

func TestResolve_Approved(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	learner := &fakeLearner{}
	decisions := &fakeDecisions{}
	s, _ := newTestService(store, poster, learner, decisions)

	item, err := s.Enqueue(testSuggestion("pat-1"), 1, time.Now(), "vendor-1", "desc", 100)
	require.NoError(t, err)

	outcome, err := s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionApproved,
		Actor:    "reviewer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, outcome.Item.Status)
	assert.Equal(t, []string{item.ID}, poster.approved)
	assert.Equal(t, []string{"pat-1"}, learner.confirmed, "approving a pattern-backed suggestion confirms it")
	require.Len(t, decisions.events, 1)
	assert.Equal(t, "approved", decisions.events[0].Decision)
	assert.Equal(t, "reviewer-1", decisions.events[0].Actor)
}

func TestResolve_IsTerminal(t *testing.T) {
	store := newFakeQueueStore()
	s, _ := newTestService(store, newFakePoster(), &fakeLearner{}, &fakeDecisions{})
	item := enqueue(t, s, "vendor-1", "desc", 100)

	_, err := s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionApproved, Actor: "reviewer-1",
	})
	require.NoError(t, err)

	_, err = s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionRejected, Reason: "wrong", Actor: "reviewer-2",
	})
	var policy *model.PolicyViolation
	require.ErrorAs(t, err, &policy, "a second resolution is rejected with no state change")
}

func TestResolve_Validation(t *testing.T) {
	store := newFakeQueueStore()
	s, _ := newTestService(store, newFakePoster(), &fakeLearner{}, &fakeDecisions{})

	tests := []struct {
		name string
		req  ResolveRequest
	}{
		{"correction without account", ResolveRequest{Decision: model.DecisionCorrected, Actor: "r"}},
		{"rejection without reason", ResolveRequest{Decision: model.DecisionRejected, Actor: "r"}},
		{"missing actor", ResolveRequest{Decision: model.DecisionApproved}},
		{"unknown decision", ResolveRequest{Decision: "maybe", Actor: "r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := enqueue(t, s, "vendor-1", "desc", 100)
			_, err := s.Resolve(context.Background(), item.ID, tt.req)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, model.ReviewPending, store.items[item.ID].Status)
		})
	}
}

func TestResolve_Corrected(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	pattern := &model.LearnedPattern{ID: "pat-new", Scope: []string{"tenant-1"}}
	learner := &fakeLearner{pattern: pattern}
	decisions := &fakeDecisions{}
	rescorer := &fakeRescorer{}

	s, _ := newTestService(store, poster, learner, decisions)
	s.SetRescorer(rescorer)

	item, err := s.Enqueue(testSuggestion("pat-old"), 1, time.Now(), "vendor-1", "Software", 50000)
	require.NoError(t, err)

	_, err = s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionCorrected,
		Account:  "6540",
		VATCode:  "25",
		Actor:    "reviewer-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{item.ID}, poster.corrected)
	assert.Equal(t, 1, learner.recorded)
	assert.Equal(t, []string{"pat-old"}, learner.contradicted, "the overridden pattern loses trust")
	require.Len(t, rescorer.patterns, 1)
	assert.Equal(t, "pat-new", rescorer.patterns[0].ID)
}

func TestResolve_Rejected(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	s, _ := newTestService(store, poster, &fakeLearner{}, &fakeDecisions{})
	item := enqueue(t, s, "vendor-1", "desc", 100)

	_, err := s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionRejected,
		Reason:   "not our invoice",
		Actor:    "reviewer-1",
	})
	require.NoError(t, err)

	assert.Empty(t, poster.approved)
	assert.Empty(t, poster.corrected)
	assert.Equal(t, []string{"tx-1"}, store.returned, "subject goes back for reprocessing")
}

func TestResolve_FailedPostingRevertsItem(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	s, exceptions := newTestService(store, poster, &fakeLearner{}, &fakeDecisions{})

	item := enqueue(t, s, "vendor-1", "desc", 100)
	poster.failFor[item.ID] = errors.New("ledger append unavailable")

	_, err := s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionApproved,
		Actor:    "reviewer-1",
	})
	require.Error(t, err)

	// The item is back in its prior state with nothing posted, and the
	// failure is on the exception list.
	stored := store.items[item.ID]
	assert.Equal(t, model.ReviewPending, stored.Status)
	assert.Nil(t, stored.Resolution)
	assert.Empty(t, poster.approved)
	require.Len(t, exceptions.items, 1)
	assert.Equal(t, "tx-1", exceptions.items[0].SubjectID)
	assert.Contains(t, exceptions.items[0].Reason, "ledger append unavailable")

	// A retry after the outage is accepted, not refused as resolved.
	delete(poster.failFor, item.ID)
	outcome, err := s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionApproved,
		Actor:    "reviewer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, outcome.Item.Status)
	assert.Equal(t, []string{item.ID}, poster.approved)
}

func TestResolve_FailedCorrectionRevertsItem(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	learner := &fakeLearner{}
	s, exceptions := newTestService(store, poster, learner, &fakeDecisions{})

	item := enqueue(t, s, "vendor-1", "desc", 100)
	require.NoError(t, s.Open(item.ID))
	poster.failFor[item.ID] = errors.New("disk full")

	_, err := s.Resolve(context.Background(), item.ID, ResolveRequest{
		Decision: model.DecisionCorrected,
		Account:  "6540",
		Actor:    "reviewer-1",
	})
	require.Error(t, err)

	assert.Equal(t, model.ReviewInReview, store.items[item.ID].Status, "the item returns to the state it was resolved from")
	assert.Zero(t, learner.recorded, "a failed correction teaches nothing")
	require.Len(t, exceptions.items, 1)
}

func fanOutItem(t *testing.T, s *Service, id, vendorID, description string, amount int64) *model.ReviewQueueItem {
	t.Helper()
	sugg := testSuggestion("")
	sugg.SubjectID = id
	item, err := s.Enqueue(sugg, 1, time.Now(), vendorID, description, amount)
	require.NoError(t, err)
	return item
}

func TestResolve_FanOutByVendor(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	decisions := &fakeDecisions{}
	s, _ := newTestService(store, poster, &fakeLearner{}, decisions)

	source := fanOutItem(t, s, "tx-1", "vendor-1", "Software", 50000)
	inScope := fanOutItem(t, s, "tx-2", "vendor-1", "Hosting", 70000)
	outOfScope := fanOutItem(t, s, "tx-3", "vendor-2", "Software", 50000)

	outcome, err := s.Resolve(context.Background(), source.ID, ResolveRequest{
		Decision:        model.DecisionCorrected,
		Account:         "6540",
		Actor:           "reviewer-1",
		ApplyToSimilar:  true,
		SimilarityScope: ScopeVendor,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.FanOutApplied)
	assert.Equal(t, 0, outcome.FanOutFailed)
	assert.Equal(t, model.ReviewResolved, store.items[inScope.ID].Status)
	assert.True(t, store.items[inScope.ID].Resolution.BatchDerived)
	assert.Equal(t, model.ReviewPending, store.items[outOfScope.ID].Status)

	var batchLogged bool
	for _, e := range decisions.events {
		if e.Decision == "batch_resolved" && e.SubjectID == "tx-2" {
			batchLogged = true
		}
	}
	assert.True(t, batchLogged)
}

func TestResolve_FanOutPartialFailure(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	s, _ := newTestService(store, poster, &fakeLearner{}, &fakeDecisions{})

	source := fanOutItem(t, s, "tx-1", "vendor-1", "Software", 50000)
	ok := fanOutItem(t, s, "tx-2", "vendor-1", "Hosting", 70000)
	failing := fanOutItem(t, s, "tx-3", "vendor-1", "Licenses", 30000)
	store.resolveErrs[failing.ID] = errors.New("db unavailable")

	outcome, err := s.Resolve(context.Background(), source.ID, ResolveRequest{
		Decision:        model.DecisionCorrected,
		Account:         "6540",
		Actor:           "reviewer-1",
		ApplyToSimilar:  true,
		SimilarityScope: ScopeVendor,
	})
	require.NoError(t, err, "partial fan-out failure is an outcome, not an error")

	assert.Equal(t, 1, outcome.FanOutApplied)
	assert.Equal(t, 1, outcome.FanOutFailed)
	require.Len(t, outcome.FanOutErrors, 1)
	assert.Contains(t, outcome.FanOutErrors[0], "db unavailable")
	assert.Equal(t, model.ReviewResolved, store.items[ok.ID].Status)
	assert.Equal(t, model.ReviewPending, store.items[failing.ID].Status, "the failed target keeps its prior state")
}

func TestResolve_FanOutPostingFailureRevertsTarget(t *testing.T) {
	store := newFakeQueueStore()
	poster := newFakePoster()
	s, exceptions := newTestService(store, poster, &fakeLearner{}, &fakeDecisions{})

	source := fanOutItem(t, s, "tx-1", "vendor-1", "Software", 50000)
	target := fanOutItem(t, s, "tx-2", "vendor-1", "Hosting", 70000)
	poster.failFor[target.ID] = errors.New("ledger append unavailable")

	outcome, err := s.Resolve(context.Background(), source.ID, ResolveRequest{
		Decision:        model.DecisionCorrected,
		Account:         "6540",
		Actor:           "reviewer-1",
		ApplyToSimilar:  true,
		SimilarityScope: ScopeVendor,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.FanOutApplied)
	assert.Equal(t, 1, outcome.FanOutFailed)
	assert.Equal(t, model.ReviewPending, store.items[target.ID].Status, "a failed posting never leaves the target resolved")
	require.Len(t, exceptions.items, 1)
	assert.Equal(t, "tx-2", exceptions.items[0].SubjectID)
}

func TestScopeMatches(t *testing.T) {
	resolved := &model.ReviewQueueItem{SubjectVendorID: "v1", SubjectDescription: "Faktura programvare", SubjectAmount: 50000}

	assert.True(t, ScopeVendor.matches(resolved, &model.ReviewQueueItem{SubjectVendorID: "v1"}))
	assert.False(t, ScopeVendor.matches(resolved, &model.ReviewQueueItem{SubjectVendorID: "v2"}))

	assert.True(t, ScopeDescription.matches(resolved, &model.ReviewQueueItem{SubjectDescription: "PROGRAMVARE abonnement"}))
	assert.False(t, ScopeDescription.matches(resolved, &model.ReviewQueueItem{SubjectDescription: "Husleie"}))

	assert.True(t, ScopeAmountBracket.matches(resolved, &model.ReviewQueueItem{SubjectAmount: 60000}))
	assert.False(t, ScopeAmountBracket.matches(resolved, &model.ReviewQueueItem{SubjectAmount: 5000}))

	assert.False(t, Scope("unknown").matches(resolved, resolved))
}
