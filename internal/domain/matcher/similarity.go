package matcher

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// counterpartySimilarity scores bank counterparty text against a vendor's
// name and aliases, returning the best [0,1] similarity found.
//
// The comparison is token-based: each counterparty token is matched to its
// closest vendor token by Levenshtein ratio, and token scores are averaged
// weighted by token length so "AS"/"ASA" suffixes don't dominate.
func counterpartySimilarity(counterparty, vendorName string, aliases []string) float64 {
	best := tokenSimilarity(counterparty, vendorName)
	for _, alias := range aliases {
		if s := tokenSimilarity(counterparty, alias); s > best {
			best = s
		}
	}
	return best
}

func tokenSimilarity(a, b string) float64 {
	at := tokenize(a)
	bt := tokenize(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}

	var weighted, totalLen float64
	for _, tok := range at {
		best := 0.0
		for _, cand := range bt {
			if r := ratio(tok, cand); r > best {
				best = r
			}
		}
		w := float64(len(tok))
		weighted += best * w
		totalLen += w
	}
	return weighted / totalLen
}

// ratio converts Levenshtein distance into a [0,1] similarity.
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	if dist >= longest {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

func tokenize(s string) []string {
	s = strings.ToUpper(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch {
		case r >= 'A' && r <= 'Z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r >= 0x80: // keep non-ASCII letters (Æ, Ø, Å, ...)
			return false
		}
		return true
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 { // single characters carry no signal
			out = append(out, f)
		}
	}
	return out
}
