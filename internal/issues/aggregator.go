// Package issues converts raw analysis findings into canonical, deduplicated
// Issue records and derives page status and audit-level issue stats.
package issues

import (
	"sort"
	"strings"

	"github.com/seoscope/geoaudit/internal/audit"
)

// dedupKey identifies an issue across repeated analysis passes.
type dedupKey struct {
	pageID   string
	category audit.Category
	title    string
}

// Aggregator collapses findings for a single page. Two findings with the same
// (page, category, normalized title) keep the higher severity; equal severity
// keeps the first-seen finding.
type Aggregator struct {
	pageID string
	idGen  audit.IDGenerator
	seen   map[dedupKey]*audit.Issue
	order  []dedupKey
}

// NewAggregator builds an Aggregator for one page.
func NewAggregator(pageID string, idGen audit.IDGenerator) *Aggregator {
	return &Aggregator{
		pageID: pageID,
		idGen:  idGen,
		seen:   make(map[dedupKey]*audit.Issue),
	}
}

// Add records a finding, applying the dedup rules. ID generation errors are
// surfaced so a broken generator fails loudly instead of minting empty IDs.
func (a *Aggregator) Add(f audit.Finding) error {
	key := dedupKey{
		pageID:   a.pageID,
		category: f.Category,
		title:    NormalizeTitle(f.Title),
	}
	if existing, ok := a.seen[key]; ok {
		if f.Severity.Rank() > existing.Severity.Rank() {
			// Higher severity wins but the original id is kept so the
			// issue stays stable across reprocessing.
			existing.Severity = f.Severity
			existing.Description = f.Description
			existing.Recommendation = f.Recommendation
			existing.AffectedElements = append([]string(nil), f.AffectedElements...)
		}
		return nil
	}
	id, err := a.idGen.NewID()
	if err != nil {
		return err
	}
	issue := &audit.Issue{
		ID:               id,
		Severity:         f.Severity,
		Category:         f.Category,
		Title:            f.Title,
		Description:      f.Description,
		Recommendation:   f.Recommendation,
		AffectedElements: append([]string(nil), f.AffectedElements...),
	}
	a.seen[key] = issue
	a.order = append(a.order, key)
	return nil
}

// Issues returns the deduplicated issues ordered by severity (critical
// first), then category, then title, so repeated runs produce identical
// output.
func (a *Aggregator) Issues() []audit.Issue {
	out := make([]audit.Issue, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, *a.seen[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() > out[j].Severity.Rank()
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// NormalizeTitle lowercases and collapses whitespace so cosmetic differences
// do not defeat deduplication.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// PageStatus derives the page rollup from the worst severity present.
func PageStatus(issues []audit.Issue) audit.PageStatus {
	status := audit.PagePass
	for _, issue := range issues {
		switch issue.Severity {
		case audit.SeverityCritical:
			return audit.PageFail
		case audit.SeverityWarning:
			status = audit.PageWarning
		}
	}
	return status
}

// AuditStats recomputes the audit-level counters from the full page set.
// Summing on every call avoids counter skew when a page is reprocessed.
func AuditStats(pages []audit.Page) audit.Stats {
	stats := audit.Stats{TotalPages: len(pages)}
	for _, page := range pages {
		for _, issue := range page.Issues {
			stats.IssuesFound++
			switch issue.Severity {
			case audit.SeverityCritical:
				stats.CriticalIssues++
			case audit.SeverityWarning:
				stats.WarningIssues++
			}
			if issue.Recommendation != "" {
				stats.Recommendations++
			}
		}
	}
	return stats
}

// UnreachableFinding is the synthetic finding recorded for a page the
// collector could not fetch.
func UnreachableFinding(reason string) audit.Finding {
	return audit.Finding{
		Severity:       audit.SeverityCritical,
		Category:       audit.CategoryStructure,
		Title:          "Page unreachable",
		Description:    reason,
		Recommendation: "Ensure the page responds with a 2xx status and is reachable by crawlers.",
	}
}

// AnalysisFailedFinding is the synthetic finding recorded when the analysis
// rules errored for a page.
func AnalysisFailedFinding(reason string) audit.Finding {
	return audit.Finding{
		Severity:       audit.SeverityCritical,
		Category:       audit.CategoryContent,
		Title:          "Analysis failed",
		Description:    reason,
		Recommendation: "Re-run the audit; persistent failures usually indicate malformed HTML.",
	}
}
