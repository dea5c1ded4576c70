package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("audit record not found")

// ErrVersionConflict signals an optimistic-concurrency failure: the record
// changed since the caller read it and the write was rejected.
var ErrVersionConflict = errors.New("audit version conflict")

// Store persists audit, page, and issue records. It is the single
// writer-of-record; the pipeline mutates audit state only through it.
type Store interface {
	CreateAudit(ctx context.Context, a Audit) error
	// GetAudit loads an audit including its current version, or ErrNotFound.
	GetAudit(ctx context.Context, auditID string) (Audit, error)
	// UpdateAudit writes the audit if a.Version matches the stored version
	// and returns the record with the bumped version. Conflicting writers
	// receive ErrVersionConflict and must retry against fresh state.
	UpdateAudit(ctx context.Context, a Audit) (Audit, error)
	// PutPage inserts or replaces a page keyed by its ID.
	PutPage(ctx context.Context, p Page) error
	// ListPages returns all pages of an audit in insertion order.
	ListPages(ctx context.Context, auditID string) ([]Page, error)
	// LatestCompletedByURL returns the most recent completed audit for a
	// normalized URL, used to load competitor snapshots; ErrNotFound when
	// the competitor has never been audited.
	LatestCompletedByURL(ctx context.Context, url string) (Audit, error)
	// DeleteAudit removes an audit and cascades to its pages.
	DeleteAudit(ctx context.Context, auditID string) error
}

// CollectTarget describes one crawl request handed to the collector.
type CollectTarget struct {
	URL      string
	Domain   string
	MaxPages int
}

// Collector discovers and fetches the pages of a target site. It invokes
// emit once per page, including unreachable ones, and stops early when emit
// or ctx reports an error.
type Collector interface {
	Collect(ctx context.Context, target CollectTarget, emit func(FetchedPage) error) error
}

// Analyzer evaluates one fetched page against a rule set. The pipeline is
// agnostic to the rules' internals.
type Analyzer interface {
	Analyze(ctx context.Context, page FetchedPage) (Analysis, error)
}

// Archive persists raw page HTML for report exporters and returns a URI.
type Archive interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
