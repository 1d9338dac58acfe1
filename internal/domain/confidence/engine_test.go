package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evenstad/reconcile-backend/internal/domain/model"
)

func activePattern(successRate float64) *model.LearnedPattern {
	return &model.LearnedPattern{
		ID:          "pat-1",
		SuccessRate: successRate,
		Active:      true,
	}
}

func TestScore_NoPatternCeiling(t *testing.T) {
	e := NewEngine(DefaultConfig())

	conf := e.Score(92, model.MatchSignals{}, nil)
	assert.Equal(t, 74, conf, "strong signals without a pattern stay under the ceiling")

	conf = e.Score(60, model.MatchSignals{}, nil)
	assert.Equal(t, 60, conf, "below the ceiling the raw score passes through")
}

func TestScore_ReferenceExactExemptFromCeiling(t *testing.T) {
	e := NewEngine(DefaultConfig())

	conf := e.Score(98, model.MatchSignals{ReferenceExact: true}, nil)
	assert.Equal(t, 98, conf)
	assert.Equal(t, RouteAutoApply, e.Decide(model.Suggestion{Confidence: conf}))
}

func TestScore_PatternBoost(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// 70 raw with a 0.6 pattern: 70 + 30*0.6 = 88, over the threshold.
	conf := e.Score(70, model.MatchSignals{}, activePattern(0.6))
	assert.Equal(t, 88, conf)
	assert.Equal(t, RouteAutoApply, e.Decide(model.Suggestion{Confidence: conf}))
}

func TestScore_InactivePatternDoesNotBoost(t *testing.T) {
	e := NewEngine(DefaultConfig())

	p := activePattern(0.9)
	p.Active = false
	conf := e.Score(80, model.MatchSignals{}, p)
	assert.Equal(t, 74, conf)
}

func TestScore_MonotoneInBothInputs(t *testing.T) {
	e := NewEngine(DefaultConfig())

	prev := -1
	for raw := 0.0; raw <= 100; raw += 10 {
		conf := e.Score(raw, model.MatchSignals{}, activePattern(0.5))
		assert.GreaterOrEqual(t, conf, prev)
		prev = conf
	}

	prev = -1
	for sr := 0.0; sr <= 1.0; sr += 0.1 {
		conf := e.Score(60, model.MatchSignals{}, activePattern(sr))
		assert.GreaterOrEqual(t, conf, prev)
		prev = conf
	}
}

func TestScore_ClampsRawRange(t *testing.T) {
	e := NewEngine(DefaultConfig())

	assert.Equal(t, 0, e.Score(-10, model.MatchSignals{}, nil))
	assert.LessOrEqual(t, e.Score(140, model.MatchSignals{}, activePattern(0.99)), 100)
}

func TestDecide_Threshold(t *testing.T) {
	e := NewEngine(Config{Threshold: 85})

	assert.Equal(t, RouteAutoApply, e.Decide(model.Suggestion{Confidence: 85}))
	assert.Equal(t, RouteReview, e.Decide(model.Suggestion{Confidence: 84}))
}

func TestDecide_TenantThresholdOverride(t *testing.T) {
	strict := NewEngine(Config{Threshold: 95})
	lax := NewEngine(Config{Threshold: 70})

	s := model.Suggestion{Confidence: 88}
	assert.Equal(t, RouteReview, strict.Decide(s))
	assert.Equal(t, RouteAutoApply, lax.Decide(s))
}

func TestReasoning(t *testing.T) {
	assert.Contains(t, Reasoning(model.MatchSignals{ReferenceExact: true}, nil), "reference")
	assert.Contains(t, Reasoning(model.MatchSignals{}, activePattern(0.8)), "pattern")
	assert.Contains(t, Reasoning(model.MatchSignals{AmountExact: true}, nil), "exact amount")
}
