// Package service is the public entry point for audit runs: it validates
// input, coalesces duplicate requests, launches pipelines, and exposes
// read/cancel operations plus progress snapshots.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/seoscope/geoaudit/internal/audit"
	"github.com/seoscope/geoaudit/internal/pipeline"
	"github.com/seoscope/geoaudit/internal/progress"
)

// ErrInvalidInput rejects malformed requests before any state is created.
var ErrInvalidInput = errors.New("invalid input")

// cancelRetries bounds how often a direct cancel write is retried after a
// version conflict.
const cancelRetries = 3

// Config controls facade behavior.
type Config struct {
	// MaxConcurrentAudits bounds how many pipelines run at once
	// (default 4).
	MaxConcurrentAudits int
}

// Service wires the store, runner, and broker into one audit facade.
type Service struct {
	store  audit.Store
	runner *pipeline.Runner
	idGen  audit.IDGenerator
	clock  audit.Clock
	logger *zap.Logger

	slots chan struct{}

	mu       sync.Mutex
	inflight map[string]string             // coalescing key -> audit id
	cancels  map[string]context.CancelFunc // audit id -> pipeline cancel
	baseCtx  context.Context
}

// New constructs a Service. baseCtx bounds the lifetime of every pipeline it
// launches.
func New(
	baseCtx context.Context,
	store audit.Store,
	runner *pipeline.Runner,
	idGen audit.IDGenerator,
	clock audit.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxConcurrentAudits <= 0 {
		cfg.MaxConcurrentAudits = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Service{
		store:    store,
		runner:   runner,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxConcurrentAudits),
		inflight: make(map[string]string),
		cancels:  make(map[string]context.CancelFunc),
		baseCtx:  baseCtx,
	}
}

// StartAudit creates an audit in pending state and launches its pipeline.
// A second call with the same normalized URL and competitor set while one is
// in flight returns the existing audit id instead of starting a duplicate.
func (s *Service) StartAudit(ctx context.Context, rawURL string, competitorURLs []string) (string, error) {
	normalized, domain, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	competitors := make([]string, 0, len(competitorURLs))
	for _, c := range competitorURLs {
		normComp, _, compErr := normalizeURL(c)
		if compErr != nil {
			return "", fmt.Errorf("%w: competitor %q", ErrInvalidInput, c)
		}
		competitors = append(competitors, normComp)
	}
	key := coalescingKey(normalized, competitors)

	s.mu.Lock()
	if existing, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	// Reserve the key before releasing the lock so a concurrent caller
	// coalesces onto this run even while the record is being created.
	auditID, err := s.idGen.NewID()
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("generate audit id: %w", err)
	}
	s.inflight[key] = auditID
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[auditID] = cancel
	s.mu.Unlock()

	a := audit.Audit{
		ID:             auditID,
		URL:            normalized,
		Domain:         domain,
		Status:         audit.StatusPending,
		CreatedAt:      s.clock.Now(),
		CompetitorURLs: competitors,
		Progress:       audit.Progress{StagesCompleted: []audit.Stage{}},
	}
	if err := s.store.CreateAudit(ctx, a); err != nil {
		s.release(key, auditID)
		cancel()
		return "", fmt.Errorf("create audit: %w", err)
	}

	go s.runPipeline(runCtx, key, auditID)

	s.logger.Info("audit started",
		zap.String("audit_id", auditID),
		zap.String("url", normalized),
		zap.Int("competitors", len(competitors)),
	)
	return auditID, nil
}

func (s *Service) runPipeline(ctx context.Context, key, auditID string) {
	defer s.release(key, auditID)

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		// Cancelled while queued behind the concurrency cap.
		s.runner.Run(ctx, auditID)
		return
	}
	s.runner.Run(ctx, auditID)
}

func (s *Service) release(key, auditID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] == auditID {
		delete(s.inflight, key)
	}
	if cancel, ok := s.cancels[auditID]; ok {
		cancel()
		delete(s.cancels, auditID)
	}
}

// GetAudit loads an audit or returns audit.ErrNotFound.
func (s *Service) GetAudit(ctx context.Context, auditID string) (audit.Audit, error) {
	return s.store.GetAudit(ctx, auditID)
}

// ListPages returns the full page/issue graph of an audit; exporters consume
// it read-only once the audit completes.
func (s *Service) ListPages(ctx context.Context, auditID string) ([]audit.Page, error) {
	if _, err := s.store.GetAudit(ctx, auditID); err != nil {
		return nil, err
	}
	return s.store.ListPages(ctx, auditID)
}

// CancelAudit requests cooperative cancellation. The running pipeline
// observes it at the next stage or page boundary; already-terminal audits
// are left untouched (idempotent).
func (s *Service) CancelAudit(ctx context.Context, auditID string) error {
	// Conflicts are retried against fresh state a bounded number of times,
	// matching the pipeline's own store-retry policy.
	var lastErr error
	for attempt := 0; attempt <= cancelRetries; attempt++ {
		a, err := s.store.GetAudit(ctx, auditID)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return nil
		}

		s.mu.Lock()
		cancel, running := s.cancels[auditID]
		s.mu.Unlock()
		if running {
			cancel()
			return nil
		}

		// No live pipeline (e.g. after a restart): write the terminal
		// state directly through the optimistic-update contract.
		now := s.clock.Now()
		a.Status = audit.StatusFailed
		a.FailureReason = pipeline.CancelReason
		a.CompletedAt = &now
		if _, err := s.store.UpdateAudit(ctx, a); err != nil {
			if errors.Is(err, audit.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return fmt.Errorf("cancel audit: %w", err)
		}
		return nil
	}
	return fmt.Errorf("cancel audit: conflict retries exhausted: %w", lastErr)
}

// DeleteAudit removes an audit and all of its pages and issues.
func (s *Service) DeleteAudit(ctx context.Context, auditID string) error {
	return s.store.DeleteAudit(ctx, auditID)
}

// Snapshot implements progress.SnapshotSource: it rebuilds the
// current-state event from the audit's last persisted record.
func (s *Service) Snapshot(ctx context.Context, auditID string) (progress.Event, error) {
	a, err := s.store.GetAudit(ctx, auditID)
	if err != nil {
		return progress.Event{}, err
	}
	return progress.FromAudit(a, s.clock.Now()), nil
}

// normalizeURL validates an absolute http(s) URL and returns its normalized
// form plus the registered domain label.
func normalizeURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("%w: url must be absolute http(s), got %q", ErrInvalidInput, raw)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: url has no host: %q", ErrInvalidInput, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""
	return u.String(), u.Hostname(), nil
}

// coalescingKey derives the at-most-one-concurrent-run key from the
// normalized URL plus the sorted competitor set.
func coalescingKey(normalized string, competitors []string) string {
	sorted := append([]string(nil), competitors...)
	sort.Strings(sorted)
	return normalized + "|" + strings.Join(sorted, ",")
}
