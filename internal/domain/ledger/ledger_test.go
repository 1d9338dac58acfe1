package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

type fakeStore struct {
	entries map[string]*model.LedgerEntry
	order   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*model.LedgerEntry)}
}

func (f *fakeStore) AppendEntry(e *model.LedgerEntry) error {
	f.entries[e.ID] = e
	f.order = append(f.order, e.ID)
	return nil
}

func (f *fakeStore) GetEntry(id string) (*model.LedgerEntry, error) {
	return f.entries[id], nil
}

func TestValidate(t *testing.T) {
	valid := Expense("tenant-1", "6540", "25", "1920", 125000, model.SourceSuggestion, "sugg-1")
	assert.NoError(t, Validate(valid))

	t.Run("rejects unbalanced lines", func(t *testing.T) {
		e := Expense("tenant-1", "6540", "", "1920", 125000, model.SourceSuggestion, "sugg-1")
		e.Lines[1].Credit = 124999
		var verr *model.ValidationError
		require.ErrorAs(t, Validate(e), &verr)
	})

	t.Run("rejects a single line", func(t *testing.T) {
		e := &model.LedgerEntry{
			ID:         "e-1",
			TenantID:   "tenant-1",
			Lines:      []model.LedgerLine{{Account: "6540", Debit: 100}},
			SourceType: model.SourceManual,
			SourceID:   "item-1",
		}
		assert.Error(t, Validate(e))
	})

	t.Run("rejects negative and two-sided lines", func(t *testing.T) {
		e := Expense("tenant-1", "6540", "", "1920", 100, model.SourceSuggestion, "sugg-1")
		e.Lines[0].Debit = -100
		assert.Error(t, Validate(e))

		e = Expense("tenant-1", "6540", "", "1920", 100, model.SourceSuggestion, "sugg-1")
		e.Lines[0].Credit = 100
		assert.Error(t, Validate(e))
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		e := Expense("tenant-1", "6540", "", "1920", 0, model.SourceSuggestion, "sugg-1")
		assert.Error(t, Validate(e))
	})

	t.Run("requires a source", func(t *testing.T) {
		e := Expense("tenant-1", "6540", "", "1920", 100, model.SourceSuggestion, "")
		assert.Error(t, Validate(e))
	})
}

func TestPost(t *testing.T) {
	store := newFakeStore()

	e := Expense("tenant-1", "6540", "25", "1920", 125000, model.SourceSuggestion, "sugg-1")
	require.NoError(t, Post(store, e))
	assert.Len(t, store.entries, 1)

	bad := Expense("tenant-1", "6540", "", "1920", 100, model.SourceSuggestion, "sugg-2")
	bad.Lines[0].Debit = 99
	assert.Error(t, Post(store, bad))
	assert.Len(t, store.entries, 1, "invalid entries are never appended")
}

func TestReversal(t *testing.T) {
	original := Expense("tenant-1", "6540", "25", "1920", 125000, model.SourceSuggestion, "sugg-1")

	rev := Reversal(original, model.SourceManual, "item-1")
	assert.Equal(t, original.ID, rev.ReversesEntryID)
	assert.NoError(t, Validate(rev))

	// Every line's sides swapped.
	assert.Equal(t, original.Lines[0].Debit, rev.Lines[0].Credit)
	assert.Equal(t, original.Lines[1].Credit, rev.Lines[1].Debit)
	assert.Equal(t, original.Lines[0].Account, rev.Lines[0].Account)
}

func TestCorrect(t *testing.T) {
	store := newFakeStore()

	original := Expense("tenant-1", "6790", "", "1920", 125000, model.SourceSuggestion, "sugg-1")
	require.NoError(t, Post(store, original))

	corrected := Expense("tenant-1", "6540", "25", "1920", 125000, model.SourceManual, "item-1")
	rev, newEntry, err := Correct(store, original.ID, corrected, model.SourceManual, "item-1")
	require.NoError(t, err)

	assert.Equal(t, original.ID, rev.ReversesEntryID)
	assert.Equal(t, original.ID, newEntry.ReversesEntryID)
	assert.Len(t, store.entries, 3, "original stays untouched, two entries appended")

	// The original is never altered in place.
	stored, err := store.GetEntry(original.ID)
	require.NoError(t, err)
	assert.Equal(t, "6790", stored.Lines[0].Account)
}

func TestCorrect_MissingOriginal(t *testing.T) {
	store := newFakeStore()
	corrected := Expense("tenant-1", "6540", "", "1920", 100, model.SourceManual, "item-1")

	_, _, err := Correct(store, "nope", corrected, model.SourceManual, "item-1")
	var policy *model.PolicyViolation
	require.ErrorAs(t, err, &policy)
}
