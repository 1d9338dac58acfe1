// Package confidence turns raw signal strength and learned-pattern trust
// into a single 0-100 confidence, and decides auto-apply versus review.
package confidence

import (
	"fmt"
	"math"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

// Config holds the routing knobs. Threshold and priority mapping are
// per-tenant; the ceiling is a system-wide guard.
type Config struct {
	// Threshold is the per-tenant auto-apply bound, 0-100.
	Threshold int

	// NoPatternCeiling caps confidence when no learned pattern applies,
	// so novel vendors cannot auto-apply on signal strength alone. A
	// checksum-validated reference match is exempt: structured references
	// are authoritative reconciliation evidence.
	NoPatternCeiling int
}

// DefaultConfig returns the standard routing configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:        85,
		NoPatternCeiling: 74,
	}
}

// Route says where a suggestion goes.
type Route string

const (
	RouteAutoApply Route = "auto_apply"
	RouteReview    Route = "review"
)

// Engine computes confidence and routing decisions.
type Engine struct {
	config Config
}

// NewEngine creates an engine with the given config.
func NewEngine(config Config) *Engine {
	if config.Threshold <= 0 || config.Threshold > 100 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.NoPatternCeiling <= 0 {
		config.NoPatternCeiling = DefaultConfig().NoPatternCeiling
	}
	return &Engine{config: config}
}

// Score computes confidence from raw signal strength (0-100) and the
// triggering pattern, if any.
//
// With a pattern the raw strength is lifted toward 100 in proportion to
// the pattern's success rate, so a trusted pattern can push a mid-strength
// suggestion over the threshold while a shaky one barely moves it. The
// result is monotone in both inputs. Without a pattern, confidence is
// capped at the conservative ceiling unless the underlying signals carry
// an exact structured-reference match.
func (e *Engine) Score(raw float64, signals model.MatchSignals, pattern *model.LearnedPattern) int {
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}

	if pattern != nil && pattern.Active {
		boosted := raw + (100-raw)*pattern.SuccessRate
		return int(math.Round(boosted))
	}

	conf := int(math.Round(raw))
	if !signals.ReferenceExact && conf > e.config.NoPatternCeiling {
		conf = e.config.NoPatternCeiling
	}
	return conf
}

// Decide routes a suggestion by comparing its confidence to the threshold.
func (e *Engine) Decide(s model.Suggestion) Route {
	if s.Confidence >= e.config.Threshold {
		return RouteAutoApply
	}
	return RouteReview
}

// Reasoning renders the human-readable explanation attached to a
// suggestion, shown in review UIs and kept in the audit trail.
func Reasoning(sig model.MatchSignals, pattern *model.LearnedPattern) string {
	switch {
	case sig.ReferenceExact:
		return "structured reference matched with valid control digit"
	case pattern != nil:
		return fmt.Sprintf("learned pattern %s (success rate %.2f) matched vendor and description",
			pattern.ID, pattern.SuccessRate)
	case sig.AmountExact:
		return fmt.Sprintf("exact amount match, counterparty similarity %.2f, %d days from due date",
			sig.CounterpartySimilarity, sig.DateProximityDays)
	default:
		return fmt.Sprintf("amount score %.2f, counterparty similarity %.2f, %d days from due date",
			sig.AmountScore, sig.CounterpartySimilarity, sig.DateProximityDays)
	}
}
