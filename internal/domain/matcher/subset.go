package matcher

import (
	"sort"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// maxCombos bounds how many alternative exact covers are materialized per
// transaction; beyond this the extras add noise, not signal.
const maxCombos = 5

// invoiceCombinations finds groups of 2..MaxCombination invoices whose
// combined amount due exactly equals the paid amount (split-payment case).
// Smaller groups are preferred and enumerated first.
func (m *Matcher) invoiceCombinations(paid int64, invoices []model.Invoice) [][]model.Invoice {
	sorted := make([]model.Invoice, len(invoices))
	copy(sorted, invoices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AmountDue < sorted[j].AmountDue })

	var combos [][]model.Invoice
	for size := 2; size <= m.config.MaxCombination && len(combos) < maxCombos; size++ {
		current := make([]model.Invoice, 0, size)
		combineInvoices(sorted, 0, size, paid, current, &combos)
	}
	return combos
}

func combineInvoices(invoices []model.Invoice, start, size int, target int64, current []model.Invoice, combos *[][]model.Invoice) {
	if len(*combos) >= maxCombos {
		return
	}
	if target == 0 && len(current) >= 2 && len(current) == cap(current) {
		combo := make([]model.Invoice, len(current))
		copy(combo, current)
		*combos = append(*combos, combo)
		return
	}
	if len(current) == cap(current) || target <= 0 {
		return
	}
	for i := start; i < len(invoices); i++ {
		if invoices[i].AmountDue > target {
			break // sorted ascending, nothing further can fit
		}
		combineInvoices(invoices, i+1, size, target-invoices[i].AmountDue,
			append(current, invoices[i]), combos)
	}
}

// comboCandidate scores a split-payment group. The amount signal is exact
// by construction; counterparty similarity is the amount-weighted average
// over members and date distance the furthest member.
func (m *Matcher) comboCandidate(tx model.Transaction, combo []model.Invoice) model.MatchCandidate {
	sig := model.MatchSignals{AmountExact: true, AmountScore: 1}

	var simWeighted, total float64
	maxDays := 0
	var dueSum int64
	ids := make([]string, 0, len(combo))
	for _, inv := range combo {
		w := float64(inv.AmountDue)
		simWeighted += counterpartySimilarity(tx.CounterpartyText, inv.VendorName, inv.VendorAliases) * w
		total += w
		if d := dateDistanceDays(tx, inv); d > maxDays {
			maxDays = d
		}
		dueSum += inv.AmountDue
		ids = append(ids, inv.ID)
	}
	if total > 0 {
		sig.CounterpartySimilarity = simWeighted / total
	}
	sig.DateProximityDays = maxDays
	if maxDays < m.config.DateWindowDays {
		sig.DateScore = 1 - float64(maxDays)/float64(m.config.DateWindowDays)
	}

	return model.MatchCandidate{
		TransactionID:    tx.ID,
		InvoiceIDs:       ids,
		Score:            m.weightedScore(sig),
		Signals:          sig,
		DateDistanceDays: maxDays,
		AmountDue:        dueSum,
	}
}

// transactionCombination looks for sibling unmatched transactions that,
// together with tx, exactly cover one invoice's amount due. Returns the
// group including tx itself.
func (m *Matcher) transactionCombination(
	tx model.Transaction,
	inv model.Invoice,
	siblings []model.Transaction,
) ([]model.Transaction, bool) {

	remaining := inv.AmountDue - abs64(tx.Amount)
	if remaining <= 0 {
		return nil, false
	}

	pool := make([]model.Transaction, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == tx.ID || s.TenantID != tx.TenantID || s.Currency != tx.Currency {
			continue
		}
		if s.Status != model.TransactionUnmatched {
			continue
		}
		if amt := abs64(s.Amount); amt > 0 && amt <= remaining {
			pool = append(pool, s)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return abs64(pool[i].Amount) < abs64(pool[j].Amount) })

	group := []model.Transaction{tx}
	if combineTransactions(pool, 0, remaining, m.config.MaxCombination-1, &group) {
		return group, true
	}
	return nil, false
}

func combineTransactions(pool []model.Transaction, start int, target int64, budget int, group *[]model.Transaction) bool {
	if target == 0 {
		return true
	}
	if budget == 0 || target < 0 {
		return false
	}
	for i := start; i < len(pool); i++ {
		amt := abs64(pool[i].Amount)
		if amt > target {
			break
		}
		*group = append(*group, pool[i])
		if combineTransactions(pool, i+1, target-amt, budget-1, group) {
			return true
		}
		*group = (*group)[:len(*group)-1]
	}
	return false
}

// groupCandidate scores a combined-transaction cover of one invoice.
func (m *Matcher) groupCandidate(tx model.Transaction, group []model.Transaction, inv model.Invoice) model.MatchCandidate {
	sig := model.MatchSignals{AmountExact: true, AmountScore: 1}
	sig.CounterpartySimilarity = counterpartySimilarity(
		tx.CounterpartyText, inv.VendorName, inv.VendorAliases)

	maxDays := 0
	ids := make([]string, 0, len(group))
	for _, member := range group {
		d := dateDistanceDays(member, inv)
		if d > maxDays {
			maxDays = d
		}
		ids = append(ids, member.ID)
	}
	sig.DateProximityDays = maxDays
	if maxDays < m.config.DateWindowDays {
		sig.DateScore = 1 - float64(maxDays)/float64(m.config.DateWindowDays)
	}

	return model.MatchCandidate{
		TransactionID:    tx.ID,
		TransactionIDs:   ids,
		InvoiceIDs:       []string{inv.ID},
		Score:            m.weightedScore(sig),
		Signals:          sig,
		DateDistanceDays: maxDays,
		AmountDue:        inv.AmountDue,
	}
}
