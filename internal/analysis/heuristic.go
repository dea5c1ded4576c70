// Package analysis provides the pluggable page-analysis rule sets consumed
// by the audit pipeline. The pipeline is agnostic to rule internals; it only
// sees sub-scores and raw findings.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/seoscope/geoaudit/internal/audit"
)

// Heuristic evaluates pages with static HTML checks across the four audit
// dimensions. All checks are deterministic: the same HTML always yields the
// same scores and findings.
type Heuristic struct{}

// NewHeuristic returns the default rule set.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Analyze parses the page and runs every rule.
func (h *Heuristic) Analyze(_ context.Context, page audit.FetchedPage) (audit.Analysis, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return audit.Analysis{}, fmt.Errorf("parse html: %w", err)
	}

	var out audit.Analysis
	out.Title = strings.TrimSpace(doc.Find("title").First().Text())

	structure := newDimension(100)
	content := newDimension(100)
	eeat := newDimension(100)
	schema := newDimension(100)

	h.checkStructure(doc, out.Title, structure)
	h.checkContent(doc, content)
	h.checkEEAT(doc, eeat)
	h.checkSchema(doc, schema)

	out.SubScores = audit.Scores{
		Structure: structure.score,
		Content:   content.score,
		EEAT:      eeat.score,
		Schema:    schema.score,
	}
	out.Findings = append(out.Findings, structure.findings...)
	out.Findings = append(out.Findings, content.findings...)
	out.Findings = append(out.Findings, eeat.findings...)
	out.Findings = append(out.Findings, schema.findings...)
	return out, nil
}

// dimension accumulates deductions and findings for one score category.
type dimension struct {
	score    float64
	findings []audit.Finding
}

func newDimension(start float64) *dimension {
	return &dimension{score: start}
}

func (d *dimension) deduct(points float64, f audit.Finding) {
	d.score -= points
	if d.score < 0 {
		d.score = 0
	}
	d.findings = append(d.findings, f)
}

func (h *Heuristic) checkStructure(doc *goquery.Document, title string, dim *dimension) {
	if title == "" {
		dim.deduct(30, audit.Finding{
			Severity:       audit.SeverityCritical,
			Category:       audit.CategoryStructure,
			Title:          "Missing page title",
			Description:    "The document has no <title> element.",
			Recommendation: "Add a unique, descriptive title of 30-60 characters.",
		})
	} else if len(title) > 60 || len(title) < 10 {
		dim.deduct(10, audit.Finding{
			Severity:       audit.SeverityWarning,
			Category:       audit.CategoryStructure,
			Title:          "Title length out of range",
			Description:    fmt.Sprintf("Title is %d characters; search and answer engines truncate or ignore extremes.", len(title)),
			Recommendation: "Keep the title between 10 and 60 characters.",
		})
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); !ok || strings.TrimSpace(desc) == "" {
		dim.deduct(20, audit.Finding{
			Severity:       audit.SeverityWarning,
			Category:       audit.CategoryStructure,
			Title:          "Missing meta description",
			Description:    "No meta description was found.",
			Recommendation: "Add a meta description of 50-160 characters summarizing the page.",
		})
	}

	h1s := doc.Find("h1")
	switch h1s.Length() {
	case 0:
		dim.deduct(20, audit.Finding{
			Severity:       audit.SeverityCritical,
			Category:       audit.CategoryStructure,
			Title:          "Missing H1 heading",
			Description:    "The page has no top-level heading.",
			Recommendation: "Add exactly one H1 that states the page topic.",
		})
	case 1:
		// One H1 is the expected shape.
	default:
		dim.deduct(10, audit.Finding{
			Severity:       audit.SeverityWarning,
			Category:       audit.CategoryStructure,
			Title:          "Multiple H1 headings",
			Description:    fmt.Sprintf("Found %d H1 elements.", h1s.Length()),
			Recommendation: "Use a single H1 and demote the rest to H2.",
		})
	}

	if doc.Find(`link[rel="canonical"]`).Length() == 0 {
		dim.deduct(10, audit.Finding{
			Severity:       audit.SeverityInfo,
			Category:       audit.CategoryStructure,
			Title:          "Missing canonical link",
			Recommendation: "Declare a canonical URL to consolidate duplicate variants.",
		})
	}
}

func (h *Heuristic) checkContent(doc *goquery.Document, dim *dimension) {
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	words := 0
	if text != "" {
		words = len(strings.Fields(text))
	}
	if words < 150 {
		dim.deduct(30, audit.Finding{
			Severity:       audit.SeverityWarning,
			Category:       audit.CategoryContent,
			Title:          "Thin content",
			Description:    fmt.Sprintf("Body contains only %d words.", words),
			Recommendation: "Expand the page to cover its topic in depth; generative engines favor substantive sources.",
		})
	}

	images := doc.Find("img")
	missingAlt := []string{}
	images.Each(func(_ int, sel *goquery.Selection) {
		if alt, ok := sel.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			src, _ := sel.Attr("src")
			missingAlt = append(missingAlt, src)
		}
	})
	if len(missingAlt) > 0 {
		dim.deduct(15, audit.Finding{
			Severity:         audit.SeverityWarning,
			Category:         audit.CategoryContent,
			Title:            "Images missing alt text",
			Description:      fmt.Sprintf("%d of %d images have no alt attribute.", len(missingAlt), images.Length()),
			Recommendation:   "Describe each image's content in its alt attribute.",
			AffectedElements: missingAlt,
		})
	}

	if doc.Find("a[href]").Length() == 0 {
		dim.deduct(10, audit.Finding{
			Severity:       audit.SeverityInfo,
			Category:       audit.CategoryContent,
			Title:          "No outgoing links",
			Recommendation: "Link related pages so crawlers and readers can navigate the site.",
		})
	}
}

func (h *Heuristic) checkEEAT(doc *goquery.Document, dim *dimension) {
	hasAuthor := doc.Find(`meta[name="author"], [rel="author"], .author, [itemprop="author"]`).Length() > 0
	if !hasAuthor {
		dim.deduct(25, audit.Finding{
			Severity:       audit.SeverityWarning,
			Category:       audit.CategoryEEAT,
			Title:          "No author attribution",
			Description:    "The page does not identify its author.",
			Recommendation: "Attribute content to a named author with credentials.",
		})
	}

	hasDate := doc.Find(`time, meta[property="article:published_time"], [itemprop="datePublished"]`).Length() > 0
	if !hasDate {
		dim.deduct(15, audit.Finding{
			Severity:       audit.SeverityInfo,
			Category:       audit.CategoryEEAT,
			Title:          "No publication date",
			Recommendation: "Expose a machine-readable publication or modification date.",
		})
	}

	external := 0
	doc.Find(`a[href^="http"]`).Each(func(_ int, sel *goquery.Selection) {
		external++
	})
	if external == 0 {
		dim.deduct(10, audit.Finding{
			Severity:       audit.SeverityInfo,
			Category:       audit.CategoryEEAT,
			Title:          "No outbound citations",
			Recommendation: "Cite authoritative sources to support factual claims.",
		})
	}
}

func (h *Heuristic) checkSchema(doc *goquery.Document, dim *dimension) {
	jsonLD := doc.Find(`script[type="application/ld+json"]`)
	if jsonLD.Length() == 0 {
		dim.deduct(40, audit.Finding{
			Severity:       audit.SeverityWarning,
			Category:       audit.CategorySchema,
			Title:          "Missing structured data",
			Description:    "No JSON-LD blocks were found.",
			Recommendation: "Add schema.org JSON-LD describing the page entity (Article, Product, Organization, ...).",
		})
		return
	}
	jsonLD.Each(func(_ int, sel *goquery.Selection) {
		if !strings.Contains(sel.Text(), "@type") {
			dim.deduct(15, audit.Finding{
				Severity:       audit.SeverityWarning,
				Category:       audit.CategorySchema,
				Title:          "Structured data missing @type",
				Recommendation: "Declare an explicit @type in every JSON-LD block.",
			})
		}
	})
}
