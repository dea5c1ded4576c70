package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seoscope/geoaudit/internal/audit"
)

// TestStageWeightsValidate enforces the sum-to-100 invariant.
func TestStageWeightsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultStageWeights().Validate())
	require.Error(t, StageWeights{Crawling: 50, Analyzing: 50, Scoring: 50}.Validate())
	require.Error(t, StageWeights{Crawling: -10, Analyzing: 60, Scoring: 20, Recommending: 20, Comparing: 10}.Validate())
}

// TestPercentage computes the weighted completion estimate.
func TestPercentage(t *testing.T) {
	t.Parallel()

	w := DefaultStageWeights()
	require.Equal(t, 0.0, w.Percentage(nil, audit.StageCrawling, 0))
	require.Equal(t, 20.0, w.Percentage(nil, audit.StageCrawling, 0.5))
	require.Equal(t, 40.0, w.Percentage([]audit.Stage{audit.StageCrawling}, audit.StageAnalyzing, 0))
	require.Equal(t, 55.0, w.Percentage([]audit.Stage{audit.StageCrawling}, audit.StageAnalyzing, 0.5))
	require.Equal(t, 100.0, w.Percentage(audit.StageOrder[:4], audit.StageComparing, 1))
}

// TestPercentageClampsFraction keeps out-of-range fractions in [0,1].
func TestPercentageClampsFraction(t *testing.T) {
	t.Parallel()

	w := DefaultStageWeights()
	require.Equal(t, 40.0, w.Percentage(nil, audit.StageCrawling, 3.0))
	require.Equal(t, 0.0, w.Percentage(nil, audit.StageCrawling, -1))
}
