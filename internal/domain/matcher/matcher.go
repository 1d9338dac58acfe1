// Package matcher scores candidate pairings between bank transactions and
// open invoices.
//
// A candidate's score is a weighted sum of four signals normalized to
// [0,1]: amount match, structured reference match, counterparty text
// similarity and date proximity. A checksum-validated reference match is
// authoritative and short-circuits the weighted sum entirely. Before
// falling back to single-invoice matches the engine checks bounded
// subset sums, so one transaction can close several invoices it exactly
// covers, and several sibling transactions can combine to close one.
//
// Example usage:
//
//	m := matcher.NewMatcher(matcher.DefaultConfig())
//	candidates, err := m.Match(tx, openInvoices, siblingTxs)
package matcher

import (
	"math"
	"sort"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// Matcher scores transactions against open invoices.
type Matcher struct {
	config Config
}

// NewMatcher creates a matcher with the given config.
func NewMatcher(config Config) *Matcher {
	if config.MaxCombination < 2 {
		config.MaxCombination = DefaultConfig().MaxCombination
	}
	if config.DateWindowDays <= 0 {
		config.DateWindowDays = DefaultConfig().DateWindowDays
	}
	if config.ReferenceScore <= 0 {
		config.ReferenceScore = DefaultConfig().ReferenceScore
	}
	return &Matcher{config: config}
}

// Match returns candidates for one transaction against the tenant's open
// invoices, sorted by non-increasing score. Ties break by smaller date
// distance, then smaller amount due. siblings are other unmatched
// transactions from the same tenant, consulted for combined coverage of a
// single invoice.
//
// A top-score tie that no tie-break signal separates returns the full
// candidate list alongside an *model.AmbiguousMatchError; callers route
// such transactions to review rather than guessing.
func (m *Matcher) Match(
	tx model.Transaction,
	invoices []model.Invoice,
	siblings []model.Transaction,
) ([]model.MatchCandidate, error) {

	open := eligibleInvoices(tx, invoices)
	if len(open) == 0 {
		return nil, nil
	}

	// Authoritative reference match short-circuits everything else.
	for _, inv := range open {
		if referencesMatch(tx.ReferenceCode, inv.ReferenceCode) {
			cand := m.referenceCandidate(tx, inv)
			return []model.MatchCandidate{cand}, nil
		}
	}

	paid := abs64(tx.Amount)

	// Split payment: one transaction exactly covering several invoices.
	if combos := m.invoiceCombinations(paid, open); len(combos) > 0 {
		candidates := make([]model.MatchCandidate, 0, len(combos))
		for _, combo := range combos {
			candidates = append(candidates, m.comboCandidate(tx, combo))
		}
		sortCandidates(candidates)
		return candidates, m.checkAmbiguity(tx.ID, candidates)
	}

	// Single-invoice candidates.
	var candidates []model.MatchCandidate
	exactAmountSeen := false
	for _, inv := range open {
		cand, ok := m.scoreSingle(tx, inv)
		if !ok {
			continue
		}
		if cand.Signals.AmountExact {
			exactAmountSeen = true
		}
		candidates = append(candidates, cand)
	}

	// No invoice fits this transaction alone: see whether it combines
	// with sibling transactions to exactly cover one invoice.
	if !exactAmountSeen {
		for _, inv := range open {
			if group, ok := m.transactionCombination(tx, inv, siblings); ok {
				candidates = append(candidates, m.groupCandidate(tx, group, inv))
			}
		}
	}

	sortCandidates(candidates)
	return candidates, m.checkAmbiguity(tx.ID, candidates)
}

// scoreSingle scores one transaction↔invoice pairing. Returns ok=false
// when every signal is zero.
func (m *Matcher) scoreSingle(tx model.Transaction, inv model.Invoice) (model.MatchCandidate, bool) {
	paid := abs64(tx.Amount)
	sig := model.MatchSignals{}

	diff := abs64(paid - inv.AmountDue)
	switch {
	case diff == 0:
		sig.AmountExact = true
		sig.AmountScore = 1
	case diff <= m.config.AmountToleranceMinor:
		sig.AmountScore = 1 - float64(diff)/float64(m.config.AmountToleranceMinor+1)
	}

	sig.CounterpartySimilarity = counterpartySimilarity(
		tx.CounterpartyText, inv.VendorName, inv.VendorAliases)

	days := dateDistanceDays(tx, inv)
	sig.DateProximityDays = days
	if days < m.config.DateWindowDays {
		sig.DateScore = 1 - float64(days)/float64(m.config.DateWindowDays)
	}

	score := m.weightedScore(sig)
	if score <= 0 {
		return model.MatchCandidate{}, false
	}

	return model.MatchCandidate{
		TransactionID:    tx.ID,
		InvoiceIDs:       []string{inv.ID},
		Score:            score,
		Signals:          sig,
		DateDistanceDays: days,
		AmountDue:        inv.AmountDue,
	}, true
}

// weightedScore combines the non-reference signals. The reference signal
// never reaches here: a validated reference match short-circuits before
// weighting, so the remaining weights are renormalized among themselves.
func (m *Matcher) weightedScore(sig model.MatchSignals) float64 {
	w := m.config.Weights.normalized()
	rest := w.Amount + w.Counterparty + w.Date
	if rest <= 0 {
		return 0
	}
	s := (w.Amount*sig.AmountScore +
		w.Counterparty*sig.CounterpartySimilarity +
		w.Date*sig.DateScore) / rest
	return math.Round(s*10000) / 100 // 0-100, two decimals
}

func (m *Matcher) referenceCandidate(tx model.Transaction, inv model.Invoice) model.MatchCandidate {
	days := dateDistanceDays(tx, inv)
	paid := abs64(tx.Amount)
	sig := model.MatchSignals{
		ReferenceExact:         true,
		AmountExact:            paid == inv.AmountDue,
		CounterpartySimilarity: counterpartySimilarity(tx.CounterpartyText, inv.VendorName, inv.VendorAliases),
		DateProximityDays:      days,
	}
	if sig.AmountExact {
		sig.AmountScore = 1
	}
	if days < m.config.DateWindowDays {
		sig.DateScore = 1 - float64(days)/float64(m.config.DateWindowDays)
	}
	return model.MatchCandidate{
		TransactionID:    tx.ID,
		InvoiceIDs:       []string{inv.ID},
		Score:            m.config.ReferenceScore,
		Signals:          sig,
		DateDistanceDays: days,
		AmountDue:        inv.AmountDue,
	}
}

// checkAmbiguity detects a top-score tie with no separating tie-break
// signal. The candidate list is still returned to the caller so review
// can present every tied option.
func (m *Matcher) checkAmbiguity(txID string, candidates []model.MatchCandidate) error {
	if len(candidates) < 2 {
		return nil
	}
	top := candidates[0]
	tied := []model.MatchCandidate{top}
	for _, c := range candidates[1:] {
		if c.Score == top.Score &&
			c.DateDistanceDays == top.DateDistanceDays &&
			c.AmountDue == top.AmountDue {
			tied = append(tied, c)
		}
	}
	if len(tied) > 1 {
		return &model.AmbiguousMatchError{TransactionID: txID, Candidates: tied}
	}
	return nil
}

// sortCandidates orders by score desc, then smaller date distance, then
// smaller amount due (prefer closing smaller invoices first).
func sortCandidates(candidates []model.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DateDistanceDays != b.DateDistanceDays {
			return a.DateDistanceDays < b.DateDistanceDays
		}
		return a.AmountDue < b.AmountDue
	})
}

func eligibleInvoices(tx model.Transaction, invoices []model.Invoice) []model.Invoice {
	out := make([]model.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.TenantID != tx.TenantID || inv.Currency != tx.Currency {
			continue
		}
		if inv.AmountDue <= 0 || inv.Status == model.InvoicePaid {
			continue
		}
		out = append(out, inv)
	}
	return out
}

func dateDistanceDays(tx model.Transaction, inv model.Invoice) int {
	d := tx.Date.Sub(inv.DueDate).Hours() / 24
	return int(math.Abs(math.Round(d)))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
