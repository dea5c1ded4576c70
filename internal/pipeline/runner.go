// Package pipeline implements the audit stage scheduler: a fixed-order state
// machine that drives one audit through crawling, analysis, scoring,
// recommendations, and competitive comparison while emitting progress events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/seoscope/geoaudit/internal/audit"
	"github.com/seoscope/geoaudit/internal/compare"
	"github.com/seoscope/geoaudit/internal/issues"
	"github.com/seoscope/geoaudit/internal/progress"
	"github.com/seoscope/geoaudit/internal/score"
)

// CancelReason is recorded on audits terminated by user request.
const CancelReason = "cancelled"

// ErrAuditTerminal is returned internally when another writer already moved
// the audit to a terminal state (e.g. a concurrent cancel).
var ErrAuditTerminal = errors.New("audit already terminal")

// StageError aborts the whole audit: a stage-level precondition could not be
// met. Page-level failures never produce one.
type StageError struct {
	Stage  audit.Stage
	Reason string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
}

// Config controls Runner behavior.
type Config struct {
	// Weights split the progress percentage across stages; must sum to 100.
	Weights StageWeights
	// PageConcurrency bounds the per-audit analysis fan-out (default 5).
	PageConcurrency int
	// MaxPages caps how many pages one audit crawls (default 50).
	MaxPages int
	// StoreRetries bounds optimistic-update retries before a conflict
	// escalates to a stage failure (default 3).
	StoreRetries int
	// ArchiveContentType is used when archiving raw HTML.
	ArchiveContentType string
}

func (c Config) withDefaults() Config {
	if c.PageConcurrency <= 0 {
		c.PageConcurrency = 5
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.StoreRetries <= 0 {
		c.StoreRetries = 3
	}
	if c.ArchiveContentType == "" {
		c.ArchiveContentType = "text/html; charset=utf-8"
	}
	return c
}

// Runner executes audit pipelines. All audit state flows through the Store's
// optimistic-update contract; the Runner holds no cross-run shared state.
type Runner struct {
	store     audit.Store
	collector audit.Collector
	analyzer  audit.Analyzer
	scorer    *score.Calculator
	emitter   progress.Emitter
	archive   audit.Archive
	clock     audit.Clock
	idGen     audit.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. The archive may be nil when HTML snapshots are not
// kept.
func New(
	store audit.Store,
	collector audit.Collector,
	analyzer audit.Analyzer,
	scorer *score.Calculator,
	emitter progress.Emitter,
	archive audit.Archive,
	clock audit.Clock,
	idGen audit.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) (*Runner, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     store,
		collector: collector,
		analyzer:  analyzer,
		scorer:    scorer,
		emitter:   emitter,
		archive:   archive,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}, nil
}

// run carries the per-run state: raw HTML kept between the crawling and
// analyzing stages, and the mutex serializing store updates from the page
// fan-out.
type run struct {
	auditID string
	html    map[string][]byte
	mu      sync.Mutex
}

// Run drives one audit from pending to a terminal state. Cancellation is
// cooperative: the context is checked at every stage and page boundary.
func (r *Runner) Run(ctx context.Context, auditID string) {
	a, err := r.store.GetAudit(ctx, auditID)
	if err != nil {
		r.logger.Error("load audit failed", zap.String("audit_id", auditID), zap.Error(err))
		return
	}
	if a.Status.IsTerminal() {
		return
	}

	st := &run{auditID: auditID, html: make(map[string][]byte)}

	for _, stage := range audit.StageOrder {
		if ctx.Err() != nil {
			r.finishCancelled(ctx, st)
			return
		}
		if _, err := r.enterStage(ctx, st, stage); err != nil {
			r.finish(ctx, st, err)
			return
		}
		if err := r.runStage(ctx, st, stage); err != nil {
			r.finish(ctx, st, err)
			return
		}
		if _, err := r.completeStage(ctx, st, stage); err != nil {
			r.finish(ctx, st, err)
			return
		}
	}
	r.finishCompleted(ctx, st)
}

func (r *Runner) runStage(ctx context.Context, st *run, stage audit.Stage) error {
	switch stage {
	case audit.StageCrawling:
		return r.stageCrawl(ctx, st)
	case audit.StageAnalyzing:
		return r.stageAnalyze(ctx, st)
	case audit.StageScoring:
		return r.stageScore(ctx, st)
	case audit.StageRecommending:
		return r.stageRecommend(ctx, st)
	case audit.StageComparing:
		return r.stageCompare(ctx, st)
	default:
		return &StageError{Stage: stage, Reason: "unknown stage"}
	}
}

// stageCrawl asks the collector for the site's pages. Unreachable pages are
// recorded as fail-status pages with a synthetic issue; only an empty crawl
// aborts the audit.
func (r *Runner) stageCrawl(ctx context.Context, st *run) error {
	a, err := r.store.GetAudit(ctx, st.auditID)
	if err != nil {
		return err
	}
	target := audit.CollectTarget{URL: a.URL, Domain: a.Domain, MaxPages: r.cfg.MaxPages}

	pagesSeen := 0
	err = r.collector.Collect(ctx, target, func(fp audit.FetchedPage) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page, buildErr := r.buildCrawledPage(ctx, st.auditID, fp)
		if buildErr != nil {
			return buildErr
		}
		if !fp.Failed() {
			st.html[page.ID] = fp.HTML
		}
		if putErr := r.store.PutPage(ctx, page); putErr != nil {
			return fmt.Errorf("record page: %w", putErr)
		}
		pagesSeen++
		// The total page count is unknown until the crawl ends, so the
		// fraction converges on 1 as pages arrive rather than pacing
		// against the page cap, which small sites never reach.
		fraction := float64(pagesSeen) / float64(pagesSeen+1)
		_, updErr := r.publishProgress(ctx, st, audit.StageCrawling, fraction)
		return updErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StageError{Stage: audit.StageCrawling, Reason: err.Error()}
	}
	if pagesSeen == 0 {
		return &StageError{Stage: audit.StageCrawling, Reason: "no pages crawled"}
	}
	return nil
}

func (r *Runner) buildCrawledPage(ctx context.Context, auditID string, fp audit.FetchedPage) (audit.Page, error) {
	pageID, err := r.idGen.NewID()
	if err != nil {
		return audit.Page{}, fmt.Errorf("generate page id: %w", err)
	}
	page := audit.Page{
		ID:          pageID,
		AuditID:     auditID,
		URL:         fp.URL,
		Path:        fp.Path,
		LastCrawled: r.clock.Now(),
		Status:      audit.PagePass,
		Issues:      []audit.Issue{},
	}
	if fp.Failed() {
		agg := issues.NewAggregator(pageID, r.idGen)
		reason := fp.FetchError
		if reason == "" {
			reason = fmt.Sprintf("fetch returned status %d", fp.Status)
		}
		if err := agg.Add(issues.UnreachableFinding(reason)); err != nil {
			return audit.Page{}, err
		}
		page.Issues = agg.Issues()
		page.Status = issues.PageStatus(page.Issues)
		return page, nil
	}
	if r.archive != nil {
		path := fmt.Sprintf("audits/%s/%s.html", auditID, pageID)
		if _, archErr := r.archive.Put(ctx, path, r.cfg.ArchiveContentType, fp.HTML); archErr != nil {
			// Archiving is best effort; exporters fall back to re-fetching.
			r.logger.Warn("archive page failed", zap.String("url", fp.URL), zap.Error(archErr))
		}
	}
	return page, nil
}

// stageAnalyze fans page analysis out to a bounded worker pool and joins
// before advancing. A single page failure marks that page fail-status; it
// never aborts the stage.
func (r *Runner) stageAnalyze(ctx context.Context, st *run) error {
	pages, err := r.store.ListPages(ctx, st.auditID)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}

	work := make(chan audit.Page)
	var wg sync.WaitGroup
	var done int
	var doneMu sync.Mutex
	var firstErr error

	workers := r.cfg.PageConcurrency
	if workers > len(pages) {
		workers = len(pages)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range work {
				r.analyzePage(ctx, st, page)
				doneMu.Lock()
				done++
				fraction := float64(done) / float64(len(pages))
				if _, updErr := r.publishProgress(ctx, st, audit.StageAnalyzing, fraction); updErr != nil && firstErr == nil {
					firstErr = updErr
				}
				doneMu.Unlock()
			}
		}()
	}

feed:
	for _, page := range pages {
		select {
		case <-ctx.Done():
			break feed
		case work <- page:
		}
	}
	close(work)
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

func (r *Runner) analyzePage(ctx context.Context, st *run, page audit.Page) {
	html, ok := st.html[page.ID]
	if !ok {
		// Fetch already failed; the synthetic issue is in place.
		return
	}
	fp := audit.FetchedPage{URL: page.URL, Path: page.Path, Status: 200, HTML: html}
	analysis, err := r.analyzer.Analyze(ctx, fp)

	agg := issues.NewAggregator(page.ID, r.idGen)
	for _, existing := range page.Issues {
		_ = agg.Add(audit.Finding{
			Severity:         existing.Severity,
			Category:         existing.Category,
			Title:            existing.Title,
			Description:      existing.Description,
			Recommendation:   existing.Recommendation,
			AffectedElements: existing.AffectedElements,
		})
	}
	if err != nil {
		if addErr := agg.Add(issues.AnalysisFailedFinding(err.Error())); addErr != nil {
			r.logger.Error("aggregate synthetic finding failed", zap.Error(addErr))
		}
	} else {
		page.Title = analysis.Title
		page.Scores = r.scorer.Page(analysis.SubScores)
		for _, finding := range analysis.Findings {
			if addErr := agg.Add(finding); addErr != nil {
				r.logger.Error("aggregate finding failed", zap.Error(addErr))
			}
		}
	}
	page.Issues = agg.Issues()
	page.Status = issues.PageStatus(page.Issues)

	if putErr := r.store.PutPage(ctx, page); putErr != nil {
		r.logger.Error("persist analyzed page failed",
			zap.String("page_id", page.ID), zap.Error(putErr))
	}
}

// stageScore rolls page scores and stats up to the audit record.
func (r *Runner) stageScore(ctx context.Context, st *run) error {
	pages, err := r.store.ListPages(ctx, st.auditID)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	subScores := make([]audit.Scores, 0, len(pages))
	for _, page := range pages {
		subScores = append(subScores, page.Scores)
	}
	rollup := r.scorer.Audit(subScores)
	stats := issues.AuditStats(pages)

	_, err = r.updateAudit(ctx, st, func(a *audit.Audit) {
		a.Scores = rollup
		a.Stats = stats
	})
	return err
}

// stageRecommend attaches a basic fix plan to critical issues that lack one.
func (r *Runner) stageRecommend(ctx context.Context, st *run) error {
	pages, err := r.store.ListPages(ctx, st.auditID)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	for _, page := range pages {
		changed := false
		for i := range page.Issues {
			issue := &page.Issues[i]
			if issue.Severity != audit.SeverityCritical || len(issue.FixPlan) > 0 {
				continue
			}
			issue.FixPlan = []audit.FixStep{
				{Step: 1, Action: "Locate the affected element", Explanation: issue.Description},
				{Step: 2, Action: issue.Recommendation},
			}
			changed = true
		}
		if changed {
			if putErr := r.store.PutPage(ctx, page); putErr != nil {
				return fmt.Errorf("persist recommendations: %w", putErr)
			}
		}
	}
	return nil
}

// stageCompare ranks the audit against already-completed competitor audits.
// No competitors means the stage is skipped but still recorded.
func (r *Runner) stageCompare(ctx context.Context, st *run) error {
	a, err := r.store.GetAudit(ctx, st.auditID)
	if err != nil {
		return err
	}
	if len(a.CompetitorURLs) == 0 {
		return nil
	}
	snapshots := make([]audit.CompetitorSnapshot, 0, len(a.CompetitorURLs))
	for _, url := range a.CompetitorURLs {
		comp, getErr := r.store.LatestCompletedByURL(ctx, url)
		if getErr != nil {
			if errors.Is(getErr, audit.ErrNotFound) {
				// Never-audited competitors are simply absent from the
				// ranking; this component does not trigger new audits.
				continue
			}
			return fmt.Errorf("load competitor snapshot: %w", getErr)
		}
		snapshots = append(snapshots, audit.CompetitorSnapshot{URL: comp.URL, Scores: comp.Scores})
	}
	ranking := compare.Rank(audit.CompetitorSnapshot{URL: a.URL, Scores: a.Scores}, snapshots)
	_, err = r.updateAudit(ctx, st, func(a *audit.Audit) {
		a.Ranking = ranking
	})
	return err
}

// enterStage moves the audit status into the stage and emits a progress
// event at the stage's zero fraction.
func (r *Runner) enterStage(ctx context.Context, st *run, stage audit.Stage) (audit.Audit, error) {
	a, err := r.updateAudit(ctx, st, func(a *audit.Audit) {
		a.Status = audit.StatusForStage(stage)
		a.Progress.CurrentStage = stage
		r.applyPercentage(a, stage, 0)
	})
	if err != nil {
		return audit.Audit{}, err
	}
	r.emitFrom(a, false)
	return a, nil
}

// completeStage appends the stage to the completed prefix and emits.
func (r *Runner) completeStage(ctx context.Context, st *run, stage audit.Stage) (audit.Audit, error) {
	a, err := r.updateAudit(ctx, st, func(a *audit.Audit) {
		r.applyPercentage(a, stage, 1)
		a.Progress.StagesCompleted = append(a.Progress.StagesCompleted, stage)
	})
	if err != nil {
		return audit.Audit{}, err
	}
	r.emitFrom(a, false)
	return a, nil
}

// publishProgress persists and emits an intra-stage progress update; stats
// are recomputed from the full page set so counters never drift.
func (r *Runner) publishProgress(ctx context.Context, st *run, stage audit.Stage, fraction float64) (audit.Audit, error) {
	pages, err := r.store.ListPages(ctx, st.auditID)
	if err != nil {
		return audit.Audit{}, fmt.Errorf("list pages: %w", err)
	}
	stats := issues.AuditStats(pages)
	a, err := r.updateAudit(ctx, st, func(a *audit.Audit) {
		a.Stats = stats
		r.applyPercentage(a, stage, fraction)
	})
	if err != nil {
		return audit.Audit{}, err
	}
	r.emitFrom(a, false)
	return a, nil
}

// applyPercentage recomputes the stage-weighted percentage, never letting it
// decrease within the audit's lifetime.
func (r *Runner) applyPercentage(a *audit.Audit, stage audit.Stage, fraction float64) {
	pct := r.cfg.Weights.Percentage(a.Progress.StagesCompleted, stage, fraction)
	if pct > a.Progress.Percentage {
		a.Progress.Percentage = pct
	}
}

// updateAudit applies a mutation through the store's optimistic-update
// contract, retrying conflicts against fresh state a bounded number of
// times. A record that turned terminal under us stops the pipeline.
func (r *Runner) updateAudit(ctx context.Context, st *run, mutate func(*audit.Audit)) (audit.Audit, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.StoreRetries; attempt++ {
		a, err := r.store.GetAudit(ctx, st.auditID)
		if err != nil {
			return audit.Audit{}, err
		}
		if a.Status.IsTerminal() {
			return audit.Audit{}, ErrAuditTerminal
		}
		mutate(&a)
		updated, err := r.store.UpdateAudit(ctx, a)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, audit.ErrVersionConflict) {
			return audit.Audit{}, err
		}
		lastErr = err
	}
	return audit.Audit{}, &StageError{
		Stage:  audit.Stage("update"),
		Reason: fmt.Sprintf("store conflict retries exhausted: %v", lastErr),
	}
}

func (r *Runner) finish(ctx context.Context, st *run, cause error) {
	if errors.Is(cause, ErrAuditTerminal) {
		// Another writer (cancel) finished the audit; it owns the
		// terminal event.
		return
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) || ctx.Err() != nil {
		r.finishCancelled(ctx, st)
		return
	}
	r.finishFailed(ctx, st, cause.Error())
}

func (r *Runner) finishCancelled(ctx context.Context, st *run) {
	r.finishFailed(ctx, st, CancelReason)
}

func (r *Runner) finishFailed(ctx context.Context, st *run, reason string) {
	// The run context may already be cancelled; the terminal write must
	// still go through.
	ctx = context.WithoutCancel(ctx)
	now := r.clock.Now()
	a, err := r.updateAudit(ctx, st, func(a *audit.Audit) {
		a.Status = audit.StatusFailed
		a.FailureReason = reason
		a.CompletedAt = &now
	})
	if err != nil {
		if !errors.Is(err, ErrAuditTerminal) {
			r.logger.Error("mark audit failed", zap.String("audit_id", st.auditID), zap.Error(err))
		}
		return
	}
	r.logger.Info("audit failed",
		zap.String("audit_id", st.auditID), zap.String("reason", reason))
	r.emitFrom(a, true)
}

func (r *Runner) finishCompleted(ctx context.Context, st *run) {
	now := r.clock.Now()
	a, err := r.updateAudit(ctx, st, func(a *audit.Audit) {
		a.Status = audit.StatusCompleted
		a.Progress.CurrentStage = ""
		a.Progress.Percentage = 100
		a.CompletedAt = &now
	})
	if err != nil {
		if !errors.Is(err, ErrAuditTerminal) {
			r.logger.Error("mark audit completed", zap.String("audit_id", st.auditID), zap.Error(err))
		}
		return
	}
	r.logger.Info("audit completed",
		zap.String("audit_id", st.auditID),
		zap.Float64("overall", a.Scores.Overall),
		zap.Int("pages", a.Stats.TotalPages),
	)
	r.emitFrom(a, true)
}

func (r *Runner) emitFrom(a audit.Audit, terminal bool) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(progress.Event{
		AuditID:    a.ID,
		TS:         r.clock.Now(),
		Stage:      a.Progress.CurrentStage,
		Status:     a.Status,
		Percentage: a.Progress.Percentage,
		Delta: progress.Delta{
			PagesProcessed: a.Stats.TotalPages,
			IssuesFound:    a.Stats.IssuesFound,
		},
		Terminal: terminal,
		Reason:   a.FailureReason,
	})
}
