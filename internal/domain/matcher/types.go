package matcher

// Weights control the relative contribution of each normalized signal.
// Per-tenant configurable; the defaults order reference > amount >
// counterparty > date.
type Weights struct {
	Reference    float64 `yaml:"reference" json:"reference"`
	Amount       float64 `yaml:"amount" json:"amount"`
	Counterparty float64 `yaml:"counterparty" json:"counterparty"`
	Date         float64 `yaml:"date" json:"date"`
}

// Config holds matcher configuration.
type Config struct {
	Weights Weights

	// AmountToleranceMinor is the rounding-tolerance band, in minor units,
	// inside which a non-exact amount still earns linear partial credit.
	AmountToleranceMinor int64

	// DateWindowDays is where the date-proximity signal decays to zero.
	DateWindowDays int

	// MaxCombination bounds subset-sum cardinality for split payments.
	MaxCombination int

	// ReferenceScore is the score assigned on a checksum-validated
	// reference match. Structured references are authoritative, so this
	// near-maxes the scale and skips the weighted sum.
	ReferenceScore float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Reference:    0.45,
			Amount:       0.30,
			Counterparty: 0.15,
			Date:         0.10,
		},
		AmountToleranceMinor: 100, // one whole unit of currency
		DateWindowDays:       90,
		MaxCombination:       4,
		ReferenceScore:       98,
	}
}

// normalized rescales weights to sum to 1 so tenant overrides can use any
// relative magnitudes.
func (w Weights) normalized() Weights {
	sum := w.Reference + w.Amount + w.Counterparty + w.Date
	if sum <= 0 {
		return DefaultConfig().Weights
	}
	return Weights{
		Reference:    w.Reference / sum,
		Amount:       w.Amount / sum,
		Counterparty: w.Counterparty / sum,
		Date:         w.Date / sum,
	}
}
