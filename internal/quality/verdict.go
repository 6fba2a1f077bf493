package quality

import (
	"github.com/rotisserie/eris"

	"github.com/clearstage/enhance/internal/model"
)

// Weights holds per-dimension aggregation weights. They are normalized by
// their sum; all-zero falls back to a uniform average.
type Weights struct {
	Completeness        float64 `mapstructure:"completeness"`
	Accuracy            float64 `mapstructure:"accuracy"`
	Consistency         float64 `mapstructure:"consistency"`
	Timeliness          float64 `mapstructure:"timeliness"`
	Uniqueness          float64 `mapstructure:"uniqueness"`
	Compliance          float64 `mapstructure:"compliance"`
	RelationalIntegrity float64 `mapstructure:"relational_integrity"`
}

// DefaultWeights weighs accuracy and completeness highest.
func DefaultWeights() Weights {
	return Weights{
		Completeness:        0.2,
		Accuracy:            0.25,
		Consistency:         0.15,
		Timeliness:          0.05,
		Uniqueness:          0.1,
		Compliance:          0.15,
		RelationalIntegrity: 0.1,
	}
}

// Validate rejects negative weights, which would invert a dimension's
// contribution to the overall score.
func (w Weights) Validate() error {
	for _, v := range []float64{
		w.Completeness, w.Accuracy, w.Consistency, w.Timeliness,
		w.Uniqueness, w.Compliance, w.RelationalIntegrity,
	} {
		if v < 0 {
			return eris.Wrapf(model.ErrConfiguration,
				"quality: dimension weights must be non-negative (got %.2f)", v)
		}
	}
	return nil
}

// Thresholds maps an overall score onto a verdict. A score at or above
// Excellent is excellent, at or above Good is good, at or above Fixable
// is fixable, below is rejected.
type Thresholds struct {
	Excellent float64 `mapstructure:"excellent"`
	Good      float64 `mapstructure:"good"`
	Fixable   float64 `mapstructure:"fixable"`
}

// DefaultThresholds returns the default verdict bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 0.9, Good: 0.75, Fixable: 0.5}
}

// Validate rejects non-monotonic threshold configuration.
func (t Thresholds) Validate() error {
	if t.Excellent < t.Good || t.Good < t.Fixable || t.Fixable <= 0 {
		return eris.Wrapf(model.ErrConfiguration,
			"quality: thresholds must satisfy excellent >= good >= fixable > 0 (got %.2f/%.2f/%.2f)",
			t.Excellent, t.Good, t.Fixable)
	}
	return nil
}

// VerdictFor classifies an overall score.
func (t Thresholds) VerdictFor(score float64) model.Verdict {
	switch {
	case score >= t.Excellent:
		return model.VerdictExcellent
	case score >= t.Good:
		return model.VerdictGood
	case score >= t.Fixable:
		return model.VerdictFixable
	default:
		return model.VerdictRejected
	}
}
