package matcher

import "strings"

// ValidateReference checks a structured payment reference of the form
// BODY-D, where D is a single control digit equal to the digit sum of the
// body mod 10 (e.g. "INV-1042-7": 1+0+4+2 = 7). References without a
// control segment fail validation and are treated as free text.
func ValidateReference(ref string) bool {
	ref = strings.TrimSpace(ref)
	i := strings.LastIndex(ref, "-")
	if i <= 0 || i == len(ref)-1 {
		return false
	}
	body, check := ref[:i], ref[i+1:]
	if len(check) != 1 || check[0] < '0' || check[0] > '9' {
		return false
	}
	sum := 0
	seen := false
	for _, r := range body {
		if r >= '0' && r <= '9' {
			sum += int(r - '0')
			seen = true
		}
	}
	if !seen {
		return false
	}
	return sum%10 == int(check[0]-'0')
}

// referencesMatch reports a checksum-validated exact match between a
// transaction's reference and an invoice's. Comparison is case-insensitive.
func referencesMatch(txRef, invRef string) bool {
	txRef = strings.TrimSpace(txRef)
	invRef = strings.TrimSpace(invRef)
	if txRef == "" || invRef == "" {
		return false
	}
	if !strings.EqualFold(txRef, invRef) {
		return false
	}
	return ValidateReference(txRef)
}
