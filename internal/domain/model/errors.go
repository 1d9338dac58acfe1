package model

import "fmt"

// ValidationError rejects malformed input before it enters the pipeline.
// Validation failures are reported to the caller, never queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// AmbiguousMatchError is returned when the top candidates tie on score and
// no tie-break signal separates them. The item is routed to review with
// all tied candidates attached; the engine never guesses.
type AmbiguousMatchError struct {
	TransactionID string
	Candidates    []MatchCandidate
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for transaction %s: %d candidates tied",
		e.TransactionID, len(e.Candidates))
}

// PersistenceConflict signals a lost optimistic-concurrency race on an
// invoice balance, queue item or pattern. Retried with fresh reads up to
// a small bound, then surfaced as a per-item failure.
type PersistenceConflict struct {
	Entity string
	ID     string
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s", e.Entity, e.ID)
}

// PolicyViolation rejects an operation against an entity not in an
// eligible state, e.g. resolving an already-resolved review item or
// promoting a pattern below the promotion bound. No state change occurs.
type PolicyViolation struct {
	Op     string
	Reason string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}
