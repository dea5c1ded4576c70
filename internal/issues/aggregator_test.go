package issues

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seoscope/geoaudit/internal/audit"
)

type seqIDGen struct {
	n    int
	fail bool
}

func (g *seqIDGen) NewID() (string, error) {
	if g.fail {
		return "", errors.New("generator broken")
	}
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

// TestAddDeduplicates collapses findings with the same category and
// normalized title into one issue.
func TestAddDeduplicates(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("page-1", &seqIDGen{})
	require.NoError(t, agg.Add(audit.Finding{
		Severity: audit.SeverityWarning,
		Category: audit.CategoryStructure,
		Title:    "Missing  Meta Description",
	}))
	require.NoError(t, agg.Add(audit.Finding{
		Severity: audit.SeverityWarning,
		Category: audit.CategoryStructure,
		Title:    "missing meta description",
	}))

	got := agg.Issues()
	require.Len(t, got, 1)
	require.Equal(t, "id-1", got[0].ID)
}

// TestAddHigherSeverityWins replaces the severity in place while keeping the
// first-seen issue id.
func TestAddHigherSeverityWins(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("page-1", &seqIDGen{})
	require.NoError(t, agg.Add(audit.Finding{
		Severity:    audit.SeverityInfo,
		Category:    audit.CategoryContent,
		Title:       "Thin content",
		Description: "first",
	}))
	require.NoError(t, agg.Add(audit.Finding{
		Severity:    audit.SeverityCritical,
		Category:    audit.CategoryContent,
		Title:       "Thin content",
		Description: "second",
	}))
	// Lower severity never downgrades.
	require.NoError(t, agg.Add(audit.Finding{
		Severity:    audit.SeverityWarning,
		Category:    audit.CategoryContent,
		Title:       "Thin content",
		Description: "third",
	}))

	got := agg.Issues()
	require.Len(t, got, 1)
	require.Equal(t, "id-1", got[0].ID)
	require.Equal(t, audit.SeverityCritical, got[0].Severity)
	require.Equal(t, "second", got[0].Description)
}

// TestIssuesOrdering sorts by severity desc, then category, then title.
func TestIssuesOrdering(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("page-1", &seqIDGen{})
	require.NoError(t, agg.Add(audit.Finding{Severity: audit.SeverityInfo, Category: audit.CategorySchema, Title: "b"}))
	require.NoError(t, agg.Add(audit.Finding{Severity: audit.SeverityCritical, Category: audit.CategoryContent, Title: "a"}))
	require.NoError(t, agg.Add(audit.Finding{Severity: audit.SeverityWarning, Category: audit.CategoryContent, Title: "c"}))
	require.NoError(t, agg.Add(audit.Finding{Severity: audit.SeverityWarning, Category: audit.CategoryContent, Title: "a"}))

	got := agg.Issues()
	require.Len(t, got, 4)
	require.Equal(t, audit.SeverityCritical, got[0].Severity)
	require.Equal(t, "a", got[1].Title)
	require.Equal(t, "c", got[2].Title)
	require.Equal(t, audit.SeverityInfo, got[3].Severity)
}

// TestAddGeneratorError surfaces id generation failures.
func TestAddGeneratorError(t *testing.T) {
	t.Parallel()

	agg := NewAggregator("page-1", &seqIDGen{fail: true})
	require.Error(t, agg.Add(audit.Finding{
		Severity: audit.SeverityInfo,
		Category: audit.CategoryEEAT,
		Title:    "No author attribution",
	}))
}

// TestPageStatus derives the rollup from the worst severity.
func TestPageStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, audit.PagePass, PageStatus(nil))
	require.Equal(t, audit.PagePass, PageStatus([]audit.Issue{
		{Severity: audit.SeverityInfo},
	}))
	require.Equal(t, audit.PageWarning, PageStatus([]audit.Issue{
		{Severity: audit.SeverityInfo},
		{Severity: audit.SeverityWarning},
	}))
	require.Equal(t, audit.PageFail, PageStatus([]audit.Issue{
		{Severity: audit.SeverityWarning},
		{Severity: audit.SeverityCritical},
	}))
}

// TestAuditStats recomputes counters from the full page set.
func TestAuditStats(t *testing.T) {
	t.Parallel()

	pages := []audit.Page{
		{Issues: []audit.Issue{
			{Severity: audit.SeverityCritical, Recommendation: "fix it"},
			{Severity: audit.SeverityWarning},
		}},
		{Issues: []audit.Issue{
			{Severity: audit.SeverityInfo, Recommendation: "consider"},
		}},
		{},
	}
	stats := AuditStats(pages)
	require.Equal(t, audit.Stats{
		TotalPages:      3,
		IssuesFound:     3,
		CriticalIssues:  1,
		WarningIssues:   1,
		Recommendations: 2,
	}, stats)

	// Re-running over the same pages yields the same stats, no drift.
	require.Equal(t, stats, AuditStats(pages))
}

// TestSyntheticFindings checks the canonical unreachable/analysis findings.
func TestSyntheticFindings(t *testing.T) {
	t.Parallel()

	unreachable := UnreachableFinding("connection refused")
	require.Equal(t, audit.SeverityCritical, unreachable.Severity)
	require.Equal(t, "connection refused", unreachable.Description)

	failed := AnalysisFailedFinding("parse html: boom")
	require.Equal(t, audit.SeverityCritical, failed.Severity)
	require.Equal(t, audit.CategoryContent, failed.Category)
}
