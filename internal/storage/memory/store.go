// Package memory provides an in-memory audit store for development and
// testing. It honors the same optimistic-concurrency contract as the
// Postgres store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/seoscope/geoaudit/internal/audit"
)

// Store keeps audits and pages in process memory, guarded by a RW mutex.
type Store struct {
	mu     sync.RWMutex
	audits map[string]audit.Audit
	pages  map[string][]audit.Page
	// order preserves audit creation order for LatestCompletedByURL.
	order []string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		audits: make(map[string]audit.Audit),
		pages:  make(map[string][]audit.Page),
	}
}

// CreateAudit stores a new audit at version 1.
func (s *Store) CreateAudit(_ context.Context, a audit.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.audits[a.ID]; exists {
		return fmt.Errorf("audit %s already exists", a.ID)
	}
	a.Version = 1
	s.audits[a.ID] = cloneAudit(a)
	s.order = append(s.order, a.ID)
	return nil
}

// GetAudit fetches an audit by ID.
func (s *Store) GetAudit(_ context.Context, auditID string) (audit.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.audits[auditID]
	if !ok {
		return audit.Audit{}, audit.ErrNotFound
	}
	return cloneAudit(a), nil
}

// UpdateAudit writes the audit if the caller's version matches the stored
// one, bumping the version. A mismatch returns ErrVersionConflict so the
// caller retries against fresh state.
func (s *Store) UpdateAudit(_ context.Context, a audit.Audit) (audit.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.audits[a.ID]
	if !ok {
		return audit.Audit{}, audit.ErrNotFound
	}
	if current.Version != a.Version {
		return audit.Audit{}, audit.ErrVersionConflict
	}
	a.Version++
	s.audits[a.ID] = cloneAudit(a)
	return cloneAudit(a), nil
}

// PutPage inserts or replaces a page keyed by its ID.
func (s *Store) PutPage(_ context.Context, p audit.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[p.AuditID]; !ok {
		return audit.ErrNotFound
	}
	pages := s.pages[p.AuditID]
	for i := range pages {
		if pages[i].ID == p.ID {
			pages[i] = clonePage(p)
			return nil
		}
	}
	s.pages[p.AuditID] = append(pages, clonePage(p))
	return nil
}

// ListPages returns all pages of an audit in insertion order.
func (s *Store) ListPages(_ context.Context, auditID string) ([]audit.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[auditID]
	out := make([]audit.Page, len(pages))
	for i, p := range pages {
		out[i] = clonePage(p)
	}
	return out, nil
}

// LatestCompletedByURL returns the most recently created completed audit for
// the URL.
func (s *Store) LatestCompletedByURL(_ context.Context, url string) (audit.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.audits[s.order[i]]
		if a.URL == url && a.Status == audit.StatusCompleted {
			return cloneAudit(a), nil
		}
	}
	return audit.Audit{}, audit.ErrNotFound
}

// DeleteAudit removes an audit and cascades to its pages.
func (s *Store) DeleteAudit(_ context.Context, auditID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[auditID]; !ok {
		return audit.ErrNotFound
	}
	delete(s.audits, auditID)
	delete(s.pages, auditID)
	for i, id := range s.order {
		if id == auditID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// cloneAudit deep-copies the slices so callers cannot mutate stored state.
func cloneAudit(a audit.Audit) audit.Audit {
	out := a
	out.Subdomains = append([]string(nil), a.Subdomains...)
	out.CompetitorURLs = append([]string(nil), a.CompetitorURLs...)
	out.Ranking = append([]audit.RankEntry(nil), a.Ranking...)
	out.Progress.StagesCompleted = append([]audit.Stage(nil), a.Progress.StagesCompleted...)
	if a.CompletedAt != nil {
		ts := *a.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}

func clonePage(p audit.Page) audit.Page {
	out := p
	out.Issues = make([]audit.Issue, len(p.Issues))
	for i, issue := range p.Issues {
		cp := issue
		cp.AffectedElements = append([]string(nil), issue.AffectedElements...)
		cp.FixPlan = append([]audit.FixStep(nil), issue.FixPlan...)
		out.Issues[i] = cp
	}
	return out
}
