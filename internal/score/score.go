// Package score computes per-page and per-audit score rollups. Scoring is a
// pure function of its inputs: re-running it on unchanged data yields
// identical results, which callers rely on for caching and reproducibility.
package score

import (
	"fmt"
	"math"

	"github.com/seoscope/geoaudit/internal/audit"
)

// Weights are the fixed category weights applied to sub-scores when deriving
// the overall score. They must sum to 1.0.
type Weights struct {
	Structure float64 `mapstructure:"structure"`
	Content   float64 `mapstructure:"content"`
	EEAT      float64 `mapstructure:"eeat"`
	Schema    float64 `mapstructure:"schema"`
}

// DefaultWeights returns the documented default weighting.
func DefaultWeights() Weights {
	return Weights{Structure: 0.3, Content: 0.3, EEAT: 0.2, Schema: 0.2}
}

const weightSumTolerance = 1e-9

// Validate enforces that the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"structure": w.Structure,
		"content":   w.Content,
		"eeat":      w.EEAT,
		"schema":    w.Schema,
	} {
		if v < 0 {
			return fmt.Errorf("score weight %s must be >= 0", name)
		}
	}
	sum := w.Structure + w.Content + w.EEAT + w.Schema
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("score weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Calculator derives weighted scores. Construct via New; the zero value is
// not usable.
type Calculator struct {
	weights Weights
}

// New validates the weights and returns a Calculator.
func New(weights Weights) (*Calculator, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{weights: weights}, nil
}

// Page fills in the weighted overall for a page's sub-scores. Sub-scores are
// clamped to [0,100] before weighting.
func (c *Calculator) Page(sub audit.Scores) audit.Scores {
	out := audit.Scores{
		Structure: clamp(sub.Structure),
		Content:   clamp(sub.Content),
		EEAT:      clamp(sub.EEAT),
		Schema:    clamp(sub.Schema),
	}
	out.Overall = c.overall(out)
	return out
}

// Audit rolls page scores up to the audit level: each sub-score is the
// unweighted mean of that sub-score across pages, and the overall is the
// weighted formula applied to those means. Applying the weights to the means
// rather than averaging page overalls avoids double-weighting.
func (c *Calculator) Audit(pages []audit.Scores) audit.Scores {
	if len(pages) == 0 {
		return audit.Scores{}
	}
	var sum audit.Scores
	for _, p := range pages {
		sum.Structure += p.Structure
		sum.Content += p.Content
		sum.EEAT += p.EEAT
		sum.Schema += p.Schema
	}
	n := float64(len(pages))
	out := audit.Scores{
		Structure: round1(sum.Structure / n),
		Content:   round1(sum.Content / n),
		EEAT:      round1(sum.EEAT / n),
		Schema:    round1(sum.Schema / n),
	}
	out.Overall = c.overall(out)
	return out
}

func (c *Calculator) overall(s audit.Scores) float64 {
	return round1(s.Structure*c.weights.Structure +
		s.Content*c.weights.Content +
		s.EEAT*c.weights.EEAT +
		s.Schema*c.weights.Schema)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return round1(v)
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
