package learning

import (
	"fmt"
	"strings"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// Stopwords that never serve as a trigger keyword. Norwegian and English
// filler seen in vendor invoice descriptions.
var stopwords = map[string]bool{
	"og": true, "for": true, "til": true, "fra": true, "med": true,
	"the": true, "and": true, "inc": true, "as": true, "asa": true,
	"ab": true, "a/s": true, "faktura": true, "invoice": true,
}

// NewTrigger normalizes vendor, description and amount into the signature
// a pattern fires on.
func NewTrigger(vendorID, description string, amount int64) model.PatternTrigger {
	return model.PatternTrigger{
		VendorID:      strings.ToLower(strings.TrimSpace(vendorID)),
		Keyword:       Keyword(description),
		AmountBracket: AmountBracket(amount),
	}
}

// Keyword extracts the first significant description token, lowercased.
// Returns "" when the description carries no usable token.
func Keyword(description string) string {
	for _, f := range strings.Fields(strings.ToLower(description)) {
		f = strings.Trim(f, ".,;:!?()[]\"'—-")
		if len(f) < 3 || stopwords[f] {
			continue
		}
		return f
	}
	return ""
}

// AmountBracket bands an amount (minor units, sign ignored) so patterns
// generalize across small price variation without crossing magnitudes.
func AmountBracket(amount int64) string {
	if amount < 0 {
		amount = -amount
	}
	switch {
	case amount < 100_00:
		return "lt100"
	case amount < 1_000_00:
		return "100-1k"
	case amount < 10_000_00:
		return "1k-10k"
	case amount < 100_000_00:
		return "10k-100k"
	default:
		return "gte100k"
	}
}

// SignatureKey flattens a trigger into the key correction streaks and
// pattern lookups are stored under.
func SignatureKey(t model.PatternTrigger) string {
	return fmt.Sprintf("%s|%s|%s", t.VendorID, t.Keyword, t.AmountBracket)
}
