// Package postgres provides a Postgres-backed audit store using pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seoscope/geoaudit/internal/audit"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements audit.Store on Postgres. Optimistic concurrency uses a
// version column checked on every update.
type Store struct {
	db DB
}

// NewStore wraps an existing connection pool or mock.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pgx pool for the DSN and returns a Store over it.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Store{db: pool}, pool, nil
}

const insertAuditSQL = `
	INSERT INTO audits (
		id, url, domain, status, created_at, completed_at, failure_reason,
		progress, scores, stats, subdomains, competitor_urls, ranking, version
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1);
`

// CreateAudit inserts a new audit at version 1.
func (s *Store) CreateAudit(ctx context.Context, a audit.Audit) error {
	doc, err := marshalAuditDocs(a)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, insertAuditSQL,
		a.ID, a.URL, a.Domain, string(a.Status), a.CreatedAt, a.CompletedAt,
		a.FailureReason, doc.progress, doc.scores, doc.stats, doc.subdomains,
		doc.competitors, doc.ranking,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

const selectAuditSQL = `
	SELECT id, url, domain, status, created_at, completed_at, failure_reason,
		progress, scores, stats, subdomains, competitor_urls, ranking, version
	FROM audits WHERE id = $1;
`

// GetAudit loads an audit or returns audit.ErrNotFound.
func (s *Store) GetAudit(ctx context.Context, auditID string) (audit.Audit, error) {
	row := s.db.QueryRow(ctx, selectAuditSQL, auditID)
	return scanAudit(row)
}

const updateAuditSQL = `
	UPDATE audits SET
		status = $2, completed_at = $3, failure_reason = $4, progress = $5,
		scores = $6, stats = $7, subdomains = $8, competitor_urls = $9,
		ranking = $10, version = version + 1
	WHERE id = $1 AND version = $11;
`

// UpdateAudit performs a version-checked write. Zero rows affected means the
// record either vanished or changed under us; the latter maps to
// ErrVersionConflict so callers retry with fresh state.
func (s *Store) UpdateAudit(ctx context.Context, a audit.Audit) (audit.Audit, error) {
	doc, err := marshalAuditDocs(a)
	if err != nil {
		return audit.Audit{}, err
	}
	tag, err := s.db.Exec(ctx, updateAuditSQL,
		a.ID, string(a.Status), a.CompletedAt, a.FailureReason, doc.progress,
		doc.scores, doc.stats, doc.subdomains, doc.competitors, doc.ranking,
		a.Version,
	)
	if err != nil {
		return audit.Audit{}, fmt.Errorf("update audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetAudit(ctx, a.ID); errors.Is(getErr, audit.ErrNotFound) {
			return audit.Audit{}, audit.ErrNotFound
		}
		return audit.Audit{}, audit.ErrVersionConflict
	}
	a.Version++
	return a, nil
}

const upsertPageSQL = `
	INSERT INTO pages (id, audit_id, url, path, title, scores, issues, last_crawled, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title, scores = EXCLUDED.scores,
		issues = EXCLUDED.issues, last_crawled = EXCLUDED.last_crawled,
		status = EXCLUDED.status;
`

// PutPage inserts or replaces a page row.
func (s *Store) PutPage(ctx context.Context, p audit.Page) error {
	scores, err := json.Marshal(p.Scores)
	if err != nil {
		return fmt.Errorf("marshal page scores: %w", err)
	}
	issues, err := json.Marshal(p.Issues)
	if err != nil {
		return fmt.Errorf("marshal page issues: %w", err)
	}
	_, err = s.db.Exec(ctx, upsertPageSQL,
		p.ID, p.AuditID, p.URL, p.Path, p.Title, scores, issues,
		p.LastCrawled, string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

const listPagesSQL = `
	SELECT id, audit_id, url, path, title, scores, issues, last_crawled, status
	FROM pages WHERE audit_id = $1 ORDER BY last_crawled, id;
`

// ListPages returns all pages of an audit.
func (s *Store) ListPages(ctx context.Context, auditID string) ([]audit.Page, error) {
	rows, err := s.db.Query(ctx, listPagesSQL, auditID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []audit.Page
	for rows.Next() {
		var (
			p              audit.Page
			status         string
			scoresJSON     []byte
			issuesJSON     []byte
			lastCrawledRaw time.Time
		)
		if err := rows.Scan(&p.ID, &p.AuditID, &p.URL, &p.Path, &p.Title,
			&scoresJSON, &issuesJSON, &lastCrawledRaw, &status); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if err := json.Unmarshal(scoresJSON, &p.Scores); err != nil {
			return nil, fmt.Errorf("decode page scores: %w", err)
		}
		if err := json.Unmarshal(issuesJSON, &p.Issues); err != nil {
			return nil, fmt.Errorf("decode page issues: %w", err)
		}
		p.LastCrawled = lastCrawledRaw
		p.Status = audit.PageStatus(status)
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

const latestCompletedSQL = `
	SELECT id, url, domain, status, created_at, completed_at, failure_reason,
		progress, scores, stats, subdomains, competitor_urls, ranking, version
	FROM audits
	WHERE url = $1 AND status = 'completed'
	ORDER BY created_at DESC LIMIT 1;
`

// LatestCompletedByURL returns the most recent completed audit for a URL.
func (s *Store) LatestCompletedByURL(ctx context.Context, url string) (audit.Audit, error) {
	row := s.db.QueryRow(ctx, latestCompletedSQL, url)
	return scanAudit(row)
}

// DeleteAudit removes an audit; the pages foreign key cascades.
func (s *Store) DeleteAudit(ctx context.Context, auditID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM audits WHERE id = $1;`, auditID)
	if err != nil {
		return fmt.Errorf("delete audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return audit.ErrNotFound
	}
	return nil
}

type auditDocs struct {
	progress    []byte
	scores      []byte
	stats       []byte
	subdomains  []byte
	competitors []byte
	ranking     []byte
}

func marshalAuditDocs(a audit.Audit) (auditDocs, error) {
	var (
		doc auditDocs
		err error
	)
	if doc.progress, err = json.Marshal(a.Progress); err != nil {
		return doc, fmt.Errorf("marshal progress: %w", err)
	}
	if doc.scores, err = json.Marshal(a.Scores); err != nil {
		return doc, fmt.Errorf("marshal scores: %w", err)
	}
	if doc.stats, err = json.Marshal(a.Stats); err != nil {
		return doc, fmt.Errorf("marshal stats: %w", err)
	}
	if doc.subdomains, err = json.Marshal(a.Subdomains); err != nil {
		return doc, fmt.Errorf("marshal subdomains: %w", err)
	}
	if doc.competitors, err = json.Marshal(a.CompetitorURLs); err != nil {
		return doc, fmt.Errorf("marshal competitor urls: %w", err)
	}
	if doc.ranking, err = json.Marshal(a.Ranking); err != nil {
		return doc, fmt.Errorf("marshal ranking: %w", err)
	}
	return doc, nil
}

func scanAudit(row pgx.Row) (audit.Audit, error) {
	var (
		a      audit.Audit
		status string
		doc    auditDocs
	)
	err := row.Scan(&a.ID, &a.URL, &a.Domain, &status, &a.CreatedAt,
		&a.CompletedAt, &a.FailureReason, &doc.progress, &doc.scores,
		&doc.stats, &doc.subdomains, &doc.competitors, &doc.ranking,
		&a.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Audit{}, audit.ErrNotFound
		}
		return audit.Audit{}, fmt.Errorf("scan audit: %w", err)
	}
	a.Status = audit.Status(status)
	if err := json.Unmarshal(doc.progress, &a.Progress); err != nil {
		return audit.Audit{}, fmt.Errorf("decode progress: %w", err)
	}
	if err := json.Unmarshal(doc.scores, &a.Scores); err != nil {
		return audit.Audit{}, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal(doc.stats, &a.Stats); err != nil {
		return audit.Audit{}, fmt.Errorf("decode stats: %w", err)
	}
	if err := json.Unmarshal(doc.subdomains, &a.Subdomains); err != nil {
		return audit.Audit{}, fmt.Errorf("decode subdomains: %w", err)
	}
	if err := json.Unmarshal(doc.competitors, &a.CompetitorURLs); err != nil {
		return audit.Audit{}, fmt.Errorf("decode competitor urls: %w", err)
	}
	if err := json.Unmarshal(doc.ranking, &a.Ranking); err != nil {
		return audit.Audit{}, fmt.Errorf("decode ranking: %w", err)
	}
	return a, nil
}
