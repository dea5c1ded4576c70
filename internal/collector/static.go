package collector

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/seoscope/geoaudit/internal/audit"
)

// StaticPage is one pre-canned page served by the Static collector.
type StaticPage struct {
	Path   string
	Status int
	HTML   string
	// Err simulates an unreachable page.
	Err string
}

// Static serves a fixed site snapshot; used in tests and local development
// where fetching a live site is undesirable.
type Static struct {
	pages []StaticPage
}

// NewStatic builds a Static collector. Pages are emitted in path order so
// runs are deterministic.
func NewStatic(pages []StaticPage) *Static {
	sorted := append([]StaticPage(nil), pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return &Static{pages: sorted}
}

// Collect emits every configured page up to target.MaxPages.
func (s *Static) Collect(ctx context.Context, target audit.CollectTarget, emit func(audit.FetchedPage) error) error {
	base, err := url.Parse(target.URL)
	if err != nil {
		return err
	}
	count := 0
	for _, page := range s.pages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if target.MaxPages > 0 && count >= target.MaxPages {
			return nil
		}
		ref := *base
		ref.Path = page.Path
		status := page.Status
		if status == 0 && page.Err == "" {
			status = 200
		}
		fp := audit.FetchedPage{
			URL:        ref.String(),
			Path:       page.Path,
			Status:     status,
			HTML:       []byte(page.HTML),
			FetchedAt:  time.Now().UTC(),
			FetchError: page.Err,
		}
		if err := emit(fp); err != nil {
			return err
		}
		count++
	}
	return nil
}
