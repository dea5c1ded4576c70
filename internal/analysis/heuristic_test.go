package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seoscope/geoaudit/internal/audit"
)

func analyze(t *testing.T, html string) audit.Analysis {
	t.Helper()
	got, err := NewHeuristic().Analyze(context.Background(), audit.FetchedPage{
		URL:    "https://example.com/",
		Path:   "/",
		Status: 200,
		HTML:   []byte(html),
	})
	require.NoError(t, err)
	return got
}

func findingTitles(a audit.Analysis) []string {
	out := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		out = append(out, f.Title)
	}
	return out
}

var wellFormedPage = `<html><head>
<title>A perfectly reasonable page title</title>
<meta name="description" content="A long enough description of what this page is about for engines.">
<meta name="author" content="Jane Doe">
<link rel="canonical" href="https://example.com/">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Article"}</script>
</head><body>
<h1>Welcome</h1>
<time datetime="2026-01-01">Jan 1</time>
<img src="/hero.png" alt="A hero image">
<p>` + strings.Repeat("substantive words here ", 60) + `</p>
<a href="https://external.example.org/study">cited study</a>
<a href="/about">about us</a>
</body></html>`

// TestAnalyzeWellFormedPage yields perfect sub-scores and no findings.
func TestAnalyzeWellFormedPage(t *testing.T) {
	t.Parallel()

	got := analyze(t, wellFormedPage)
	require.Equal(t, "A perfectly reasonable page title", got.Title)
	require.Empty(t, got.Findings)
	require.Equal(t, 100.0, got.SubScores.Structure)
	require.Equal(t, 100.0, got.SubScores.Content)
	require.Equal(t, 100.0, got.SubScores.EEAT)
	require.Equal(t, 100.0, got.SubScores.Schema)
}

// TestAnalyzeBarePage flags the full set of structural problems.
func TestAnalyzeBarePage(t *testing.T) {
	t.Parallel()

	got := analyze(t, "<html><head></head><body><p>thin</p></body></html>")
	titles := findingTitles(got)
	require.Contains(t, titles, "Missing page title")
	require.Contains(t, titles, "Missing meta description")
	require.Contains(t, titles, "Missing H1 heading")
	require.Contains(t, titles, "Thin content")
	require.Contains(t, titles, "No author attribution")
	require.Contains(t, titles, "Missing structured data")
	require.Less(t, got.SubScores.Structure, 50.0)
	require.Equal(t, 60.0, got.SubScores.Schema)
}

// TestAnalyzeDeterministic returns identical output for identical input.
func TestAnalyzeDeterministic(t *testing.T) {
	t.Parallel()

	first := analyze(t, wellFormedPage)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, analyze(t, wellFormedPage))
	}
}

// TestAnalyzeTitleLength warns on titles outside the 10-60 character range.
func TestAnalyzeTitleLength(t *testing.T) {
	t.Parallel()

	got := analyze(t, "<html><head><title>x</title></head><body><h1>h</h1></body></html>")
	require.Contains(t, findingTitles(got), "Title length out of range")
}

// TestAnalyzeMultipleH1 warns when more than one H1 is present.
func TestAnalyzeMultipleH1(t *testing.T) {
	t.Parallel()

	got := analyze(t, "<html><body><h1>one</h1><h1>two</h1></body></html>")
	titles := findingTitles(got)
	require.Contains(t, titles, "Multiple H1 headings")
	require.NotContains(t, titles, "Missing H1 heading")
}

// TestAnalyzeImagesMissingAlt reports the affected image sources.
func TestAnalyzeImagesMissingAlt(t *testing.T) {
	t.Parallel()

	got := analyze(t, `<html><body><h1>h</h1><img src="/a.png"><img src="/b.png" alt="described"></body></html>`)
	var found audit.Finding
	for _, f := range got.Findings {
		if f.Title == "Images missing alt text" {
			found = f
		}
	}
	require.Equal(t, audit.SeverityWarning, found.Severity)
	require.Equal(t, []string{"/a.png"}, found.AffectedElements)
}

// TestAnalyzeSchemaMissingType deducts per JSON-LD block without @type.
func TestAnalyzeSchemaMissingType(t *testing.T) {
	t.Parallel()

	got := analyze(t, `<html><head><script type="application/ld+json">{"name":"x"}</script></head><body><h1>h</h1></body></html>`)
	require.Contains(t, findingTitles(got), "Structured data missing @type")
	require.Equal(t, 85.0, got.SubScores.Schema)
}
