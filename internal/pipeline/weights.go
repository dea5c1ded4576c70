package pipeline

import (
	"fmt"

	"github.com/seoscope/geoaudit/internal/audit"
)

// StageWeights assigns each stage its share of the progress percentage.
// Weights must sum to exactly 100; skipped stages still contribute their
// weight so the percentage math stays consistent.
type StageWeights struct {
	Crawling     int `mapstructure:"crawling"`
	Analyzing    int `mapstructure:"analyzing"`
	Scoring      int `mapstructure:"scoring"`
	Recommending int `mapstructure:"recommending"`
	Comparing    int `mapstructure:"comparing"`
}

// DefaultStageWeights returns the default stage split.
func DefaultStageWeights() StageWeights {
	return StageWeights{Crawling: 40, Analyzing: 30, Scoring: 10, Recommending: 10, Comparing: 10}
}

// Validate enforces non-negative weights summing to 100.
func (w StageWeights) Validate() error {
	total := 0
	for _, stage := range audit.StageOrder {
		v := w.Of(stage)
		if v < 0 {
			return fmt.Errorf("stage weight %s must be >= 0", stage)
		}
		total += v
	}
	if total != 100 {
		return fmt.Errorf("stage weights must sum to 100, got %d", total)
	}
	return nil
}

// Of returns the weight for a stage.
func (w StageWeights) Of(stage audit.Stage) int {
	switch stage {
	case audit.StageCrawling:
		return w.Crawling
	case audit.StageAnalyzing:
		return w.Analyzing
	case audit.StageScoring:
		return w.Scoring
	case audit.StageRecommending:
		return w.Recommending
	case audit.StageComparing:
		return w.Comparing
	default:
		return 0
	}
}

// Percentage computes the completion estimate given the completed stages and
// the fraction of the current stage that is done.
func (w StageWeights) Percentage(completed []audit.Stage, current audit.Stage, fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	done := 0
	for _, stage := range completed {
		done += w.Of(stage)
	}
	return float64(done) + float64(w.Of(current))*fraction
}
