// Package collector implements the crawl collector consumed by the audit
// pipeline: it discovers and fetches the pages of a target domain and hands
// the pipeline structured page data.
package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/seoscope/geoaudit/internal/audit"
)

// Config controls the colly-backed collector.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Parallelism bounds concurrent fetches against the target site.
	Parallelism int
}

// Colly crawls a site breadth-first within its registered domain.
type Colly struct {
	cfg Config
}

// NewColly builds a collector.
func NewColly(cfg Config) *Colly {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	return &Colly{cfg: cfg}
}

// Collect visits the target URL and same-domain links up to target.MaxPages,
// invoking emit once per page. Fetch failures are emitted as failed pages,
// not returned as errors; only emit/ctx errors stop the crawl.
func (c *Colly) Collect(ctx context.Context, target audit.CollectTarget, emit func(audit.FetchedPage) error) error {
	root, err := url.Parse(target.URL)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(root.Hostname(), "www."+root.Hostname()),
		colly.MaxDepth(3),
		colly.Async(true),
	)
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots
	collector.SetRequestTimeout(c.cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
	}); err != nil {
		return fmt.Errorf("apply limit rule: %w", err)
	}

	var (
		mu      sync.Mutex
		emitted int
		emitErr error
	)
	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return emitErr != nil || emitted >= target.MaxPages
	}
	record := func(fp audit.FetchedPage) {
		mu.Lock()
		defer mu.Unlock()
		if emitErr != nil || emitted >= target.MaxPages {
			return
		}
		if err := emit(fp); err != nil {
			emitErr = err
			return
		}
		emitted++
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || stopped() {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		record(audit.FetchedPage{
			URL:       r.Request.URL.String(),
			Path:      pathOf(r.Request.URL),
			Status:    r.StatusCode,
			Headers:   headerMap(r),
			HTML:      append([]byte(nil), r.Body...),
			FetchedAt: time.Now().UTC(),
		})
	})
	collector.OnError(func(r *colly.Response, fetchErr error) {
		record(audit.FetchedPage{
			URL:        r.Request.URL.String(),
			Path:       pathOf(r.Request.URL),
			Status:     r.StatusCode,
			FetchedAt:  time.Now().UTC(),
			FetchError: fetchErr.Error(),
		})
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if stopped() {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || strings.HasPrefix(link, "mailto:") {
			return
		}
		// Visit errors (already-visited, filtered domains) are expected.
		_ = e.Request.Visit(link)
	})

	if err := collector.Visit(target.URL); err != nil {
		return fmt.Errorf("visit %s: %w", target.URL, err)
	}
	collector.Wait()

	mu.Lock()
	defer mu.Unlock()
	if emitErr != nil {
		return emitErr
	}
	return ctx.Err()
}

func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func headerMap(r *colly.Response) map[string][]string {
	if r.Headers == nil {
		return nil
	}
	out := make(map[string][]string, len(*r.Headers))
	for k, v := range *r.Headers {
		out[k] = append([]string(nil), v...)
	}
	return out
}
