// Package learning turns human corrections into persisted patterns and
// maintains each pattern's trust as later outcomes confirm or contradict
// it.
//
// A pattern is created only after MinConsistent corrections in a row
// resolve one trigger signature to the same action; a single contradicting
// correction resets the streak. Trust starts moderate, grows
// asymptotically on confirmation and decays multiplicatively on
// contradiction. Patterns falling below the low-water mark stop scoring
// but are retained for audit.
package learning

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

const (
	// MinConsistent is how many consecutive identical corrections one
	// signature needs before a pattern is created.
	MinConsistent = 3

	// SeedSuccessRate is the moderate initial trust of a new pattern.
	SeedSuccessRate = 0.6

	// ConfirmGain moves success_rate toward (never onto) 1.0 per
	// confirmed auto-apply.
	ConfirmGain = 0.15

	// ContradictDecay multiplies success_rate on a corrected auto-apply.
	ContradictDecay = 0.7

	// LowWaterMark deactivates a pattern from scoring.
	LowWaterMark = 0.4

	// PromotionBound is the success_rate a pattern needs before its scope
	// may widen beyond the originating tenant.
	PromotionBound = 0.9

	// conflictRetries bounds optimistic-update retries before surfacing
	// the conflict.
	conflictRetries = 3
)

// Correction is one recorded human override of a suggestion.
type Correction struct {
	ID           string              `json:"id"`
	TenantID     string              `json:"tenant_id"`
	SignatureKey string              `json:"signature_key"`
	Trigger      model.PatternTrigger `json:"trigger"`
	Suggested    model.PatternAction `json:"suggested"`
	Corrected    model.PatternAction `json:"corrected"`
	CreatedAt    time.Time           `json:"created_at"`
}

// CorrectionStore persists corrections and reads them back newest-first.
type CorrectionStore interface {
	AppendCorrection(c Correction) error
	RecentCorrections(signatureKey string, limit int) ([]Correction, error)
}

// PatternStore persists learned patterns. UpdatePattern is an optimistic
// write keyed on Version and returns *model.PersistenceConflict when the
// version moved underneath the caller.
type PatternStore interface {
	FindPatternByTrigger(t model.PatternTrigger) (*model.LearnedPattern, error)
	GetPattern(id string) (*model.LearnedPattern, error)
	SavePattern(p *model.LearnedPattern) error
	UpdatePattern(p *model.LearnedPattern) error
	ActivePatternsForTenant(tenantID string) ([]model.LearnedPattern, error)
}

// Engine is the learning engine.
type Engine struct {
	corrections CorrectionStore
	patterns    PatternStore
	now         func() time.Time
}

// NewEngine creates a learning engine over the given stores.
func NewEngine(corrections CorrectionStore, patterns PatternStore) *Engine {
	return &Engine{
		corrections: corrections,
		patterns:    patterns,
		now:         time.Now,
	}
}

// RecordCorrection ingests one human correction. When the signature's
// newest corrections form a streak of MinConsistent identical actions, the
// pattern is created (or its action refreshed). Returns the affected
// pattern, or nil when no pattern resulted.
func (e *Engine) RecordCorrection(
	tenantID, vendorID, description string,
	amount int64,
	suggested, corrected model.PatternAction,
) (*model.LearnedPattern, error) {

	if suggested == corrected {
		return nil, nil // not a correction, nothing to learn
	}

	trigger := NewTrigger(vendorID, description, amount)
	c := Correction{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		SignatureKey: SignatureKey(trigger),
		Trigger:      trigger,
		Suggested:    suggested,
		Corrected:    corrected,
		CreatedAt:    e.now(),
	}
	if err := e.corrections.AppendCorrection(c); err != nil {
		return nil, fmt.Errorf("append correction: %w", err)
	}

	streak, err := e.consistentStreak(c.SignatureKey, corrected)
	if err != nil {
		return nil, err
	}
	if streak < MinConsistent {
		return nil, nil
	}
	return e.upsertPattern(tenantID, trigger, corrected)
}

// consistentStreak counts, newest first, how many corrections in a row
// resolved to the given action. The first differing action ends the count:
// a single contradiction resets consistency.
func (e *Engine) consistentStreak(signatureKey string, action model.PatternAction) (int, error) {
	recent, err := e.corrections.RecentCorrections(signatureKey, MinConsistent*2)
	if err != nil {
		return 0, fmt.Errorf("read corrections: %w", err)
	}
	streak := 0
	for _, c := range recent {
		if c.Corrected != action {
			break
		}
		streak++
	}
	return streak, nil
}

func (e *Engine) upsertPattern(tenantID string, trigger model.PatternTrigger, action model.PatternAction) (*model.LearnedPattern, error) {
	existing, err := e.patterns.FindPatternByTrigger(trigger)
	if err != nil {
		return nil, fmt.Errorf("find pattern: %w", err)
	}

	if existing == nil {
		p := &model.LearnedPattern{
			ID:          uuid.NewString(),
			Trigger:     trigger,
			Action:      action,
			SuccessRate: SeedSuccessRate,
			Scope:       []string{tenantID},
			Active:      true,
			CreatedAt:   e.now(),
			UpdatedAt:   e.now(),
		}
		if err := e.patterns.SavePattern(p); err != nil {
			return nil, fmt.Errorf("save pattern: %w", err)
		}
		return p, nil
	}

	// The humans now consistently resolve to a different action: retarget
	// the pattern and reset trust to the seed.
	return e.mutate(existing.ID, func(p *model.LearnedPattern) error {
		if p.Action != action {
			p.Action = action
			p.SuccessRate = SeedSuccessRate
			p.Active = true
		}
		return nil
	})
}

// MarkApplied counts one application of the pattern without touching
// trust; trust moves only on later confirmation or contradiction.
func (e *Engine) MarkApplied(patternID string) (*model.LearnedPattern, error) {
	return e.mutate(patternID, func(p *model.LearnedPattern) error {
		p.TimesApplied++
		return nil
	})
}

// Confirm records a confirmed auto-apply attributable to the pattern,
// nudging trust asymptotically toward 1.0.
func (e *Engine) Confirm(patternID string) (*model.LearnedPattern, error) {
	return e.mutate(patternID, func(p *model.LearnedPattern) error {
		p.SuccessRate += (1 - p.SuccessRate) * ConfirmGain
		return nil
	})
}

// Contradict records a later-corrected auto-apply, decaying trust. A
// pattern falling below the low-water mark is deactivated from scoring
// but retained for audit, never deleted.
func (e *Engine) Contradict(patternID string) (*model.LearnedPattern, error) {
	return e.mutate(patternID, func(p *model.LearnedPattern) error {
		p.SuccessRate *= ContradictDecay
		if p.SuccessRate < LowWaterMark {
			p.Active = false
		}
		return nil
	})
}

// Promote widens a pattern's scope to additional tenants. This is the only
// path by which scope grows; scoring never widens it as a side effect.
// Promotion below the bound is a policy violation.
func (e *Engine) Promote(patternID string, tenantIDs []string) (*model.LearnedPattern, error) {
	return e.mutate(patternID, func(p *model.LearnedPattern) error {
		if p.SuccessRate < PromotionBound {
			return &model.PolicyViolation{
				Op:     "promote pattern",
				Reason: fmt.Sprintf("success rate %.2f below promotion bound %.2f", p.SuccessRate, PromotionBound),
			}
		}
		for _, t := range tenantIDs {
			if !p.InScope(t) {
				p.Scope = append(p.Scope, t)
			}
		}
		return nil
	})
}

// FindApplicable returns the active pattern matching the given subject for
// a tenant, honoring scope. Nil when none applies.
func (e *Engine) FindApplicable(tenantID, vendorID, description string, amount int64) (*model.LearnedPattern, error) {
	trigger := NewTrigger(vendorID, description, amount)
	p, err := e.patterns.FindPatternByTrigger(trigger)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active || !p.InScope(tenantID) {
		return nil, nil
	}
	return p, nil
}

// mutate applies fn to a fresh read of the pattern under optimistic
// concurrency, retrying lost races with fresh reads up to the bound.
func (e *Engine) mutate(patternID string, fn func(*model.LearnedPattern) error) (*model.LearnedPattern, error) {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		p, err := e.patterns.GetPattern(patternID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, &model.PolicyViolation{Op: "update pattern", Reason: "pattern not found"}
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		p.UpdatedAt = e.now()
		err = e.patterns.UpdatePattern(p)
		if err == nil {
			return p, nil
		}
		var conflict *model.PersistenceConflict
		if !errors.As(err, &conflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
