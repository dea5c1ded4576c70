// Package audit defines core types shared across subsystems.
package audit

import (
	"time"
)

// Status represents the lifecycle state of an audit run. It only ever
// advances forward through the stage order, never backward.
type Status string

// Audit status values persisted in the audit store.
const (
	StatusPending      Status = "pending"
	StatusCrawling     Status = "crawling"
	StatusAnalyzing    Status = "analyzing"
	StatusScoring      Status = "scoring"
	StatusRecommending Status = "recommending"
	StatusComparing    Status = "comparing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Stage denotes one phase of the audit pipeline.
type Stage string

// Pipeline stages in canonical order.
const (
	StageCrawling     Stage = "crawling"
	StageAnalyzing    Stage = "analyzing"
	StageScoring      Stage = "scoring"
	StageRecommending Stage = "recommending"
	StageComparing    Stage = "comparing"
)

// StageOrder is the canonical stage sequence. StagesCompleted on an Audit is
// always a strict prefix of this slice.
var StageOrder = []Stage{
	StageCrawling,
	StageAnalyzing,
	StageScoring,
	StageRecommending,
	StageComparing,
}

// StatusForStage maps a pipeline stage to the audit status reported while the
// stage is running.
func StatusForStage(stage Stage) Status {
	switch stage {
	case StageCrawling:
		return StatusCrawling
	case StageAnalyzing:
		return StatusAnalyzing
	case StageScoring:
		return StatusScoring
	case StageRecommending:
		return StatusRecommending
	case StageComparing:
		return StatusComparing
	default:
		return StatusPending
	}
}

// IsTerminal reports whether the status ends the audit lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Scores holds the per-category sub-scores plus the weighted overall, all in
// the range [0,100].
type Scores struct {
	Overall   float64 `json:"overall"`
	Structure float64 `json:"structure"`
	Content   float64 `json:"content"`
	EEAT      float64 `json:"eeat"`
	Schema    float64 `json:"schema"`
}

// Stats summarizes issue counts across an audit. The counts are always
// recomputed from the full current page set, never drifted incrementally.
type Stats struct {
	TotalPages      int `json:"total_pages"`
	IssuesFound     int `json:"issues_found"`
	CriticalIssues  int `json:"critical_issues"`
	WarningIssues   int `json:"warning_issues"`
	Recommendations int `json:"recommendations"`
}

// Progress tracks how far the pipeline has advanced. Percentage is
// monotonically non-decreasing within one audit's lifetime.
type Progress struct {
	Percentage      float64 `json:"percentage"`
	CurrentStage    Stage   `json:"current_stage,omitempty"`
	StagesCompleted []Stage `json:"stages_completed"`
}

// RankEntry is one row of the competitive ranking attached to a completed
// audit.
type RankEntry struct {
	Rank    int    `json:"rank"`
	URL     string `json:"url"`
	Scores  Scores `json:"scores"`
	Subject bool   `json:"subject"`
}

// Audit represents one end-to-end analysis run for a target domain.
type Audit struct {
	ID             string      `json:"id"`
	URL            string      `json:"url"`
	Domain         string      `json:"domain"`
	Status         Status      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	Progress       Progress    `json:"progress"`
	Scores         Scores      `json:"scores"`
	Stats          Stats       `json:"stats"`
	Subdomains     []string    `json:"subdomains,omitempty"`
	CompetitorURLs []string    `json:"competitor_urls,omitempty"`
	Ranking        []RankEntry `json:"ranking,omitempty"`
	FailureReason  string      `json:"failure_reason,omitempty"`

	// Version supports optimistic-concurrency updates; the store rejects
	// writes whose version does not match the current record.
	Version int64 `json:"-"`
}

// PageStatus is the rollup state of a single page, derived deterministically
// from the worst severity among its issues.
type PageStatus string

// Page status values.
const (
	PagePass    PageStatus = "pass"
	PageWarning PageStatus = "warning"
	PageFail    PageStatus = "fail"
)

// Page is one audited page, owned exclusively by its Audit.
type Page struct {
	ID          string     `json:"id"`
	AuditID     string     `json:"audit_id"`
	URL         string     `json:"url"`
	Path        string     `json:"path"`
	Title       string     `json:"title,omitempty"`
	Scores      Scores     `json:"scores"`
	Issues      []Issue    `json:"issues"`
	LastCrawled time.Time  `json:"last_crawled"`
	Status      PageStatus `json:"status"`
}

// Severity grades how urgent an issue is.
type Severity string

// Issue severities, ordered critical > warning > info.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Category groups issues by the audit dimension they affect.
type Category string

// Issue categories matching the score dimensions.
const (
	CategoryStructure Category = "structure"
	CategoryContent   Category = "content"
	CategoryEEAT      Category = "eeat"
	CategorySchema    Category = "schema"
)

// FixStep is one step of a remediation plan attached to an issue.
type FixStep struct {
	Step        int    `json:"step"`
	Action      string `json:"action"`
	Code        string `json:"code,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// Issue is a discrete, categorized finding on a page. Issues are immutable
// once created and deduplicated by (page, category, normalized title).
type Issue struct {
	ID               string    `json:"id"`
	Severity         Severity  `json:"severity"`
	Category         Category  `json:"category"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Recommendation   string    `json:"recommendation,omitempty"`
	AISuggestion     string    `json:"ai_suggestion,omitempty"`
	AffectedElements []string  `json:"affected_elements,omitempty"`
	FixPlan          []FixStep `json:"fix_plan,omitempty"`
}

// CompetitorSnapshot is the scored result of an independently completed audit
// of a competing domain; read-only input to the competitive analyzer.
type CompetitorSnapshot struct {
	URL    string `json:"url"`
	Scores Scores `json:"scores"`
}

// FetchedPage is the structured page data handed to the pipeline by the crawl
// collector. A non-2xx status or a fetch error is a per-page failure, never a
// pipeline failure.
type FetchedPage struct {
	URL       string
	Path      string
	Status    int
	Headers   map[string][]string
	HTML      []byte
	FetchedAt time.Time
	// FetchError carries the failure text when the page was unreachable.
	FetchError string
}

// Failed reports whether the fetch must be recorded as a fail-status page.
func (p FetchedPage) Failed() bool {
	return p.FetchError != "" || p.Status < 200 || p.Status >= 300
}

// Finding is a raw, not-yet-deduplicated result from an analysis rule.
type Finding struct {
	Severity         Severity
	Category         Category
	Title            string
	Description      string
	Recommendation   string
	AffectedElements []string
}

// Analysis is the output of one analyzer pass over a page.
type Analysis struct {
	// SubScores carries the raw per-category metrics in [0,100]; the score
	// calculator derives the weighted overall.
	SubScores Scores
	Findings  []Finding
	Title     string
}
