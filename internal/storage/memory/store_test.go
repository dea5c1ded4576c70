package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seoscope/geoaudit/internal/audit"
)

// TestCreateAndGetAudit stores an audit at version 1 and retrieves it.
func TestCreateAndGetAudit(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a1", URL: "https://example.com"}))
	require.Error(t, store.CreateAudit(ctx, audit.Audit{ID: "a1"}))

	got, err := store.GetAudit(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)
	require.Equal(t, "https://example.com", got.URL)

	_, err = store.GetAudit(ctx, "missing")
	require.ErrorIs(t, err, audit.ErrNotFound)
}

// TestUpdateAuditVersionConflict rejects writes carrying a stale version.
func TestUpdateAuditVersionConflict(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a1"}))

	first, err := store.GetAudit(ctx, "a1")
	require.NoError(t, err)
	stale, err := store.GetAudit(ctx, "a1")
	require.NoError(t, err)

	first.Status = audit.StatusCrawling
	updated, err := store.UpdateAudit(ctx, first)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	stale.Status = audit.StatusFailed
	_, err = store.UpdateAudit(ctx, stale)
	require.ErrorIs(t, err, audit.ErrVersionConflict)

	// Retrying against fresh state succeeds.
	fresh, err := store.GetAudit(ctx, "a1")
	require.NoError(t, err)
	fresh.Status = audit.StatusFailed
	_, err = store.UpdateAudit(ctx, fresh)
	require.NoError(t, err)
}

// TestPutPageUpsert replaces a page in place when re-put with the same ID.
func TestPutPageUpsert(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a1"}))

	require.ErrorIs(t, store.PutPage(ctx, audit.Page{ID: "p1", AuditID: "nope"}), audit.ErrNotFound)

	require.NoError(t, store.PutPage(ctx, audit.Page{ID: "p1", AuditID: "a1", Path: "/"}))
	require.NoError(t, store.PutPage(ctx, audit.Page{ID: "p2", AuditID: "a1", Path: "/about"}))
	require.NoError(t, store.PutPage(ctx, audit.Page{ID: "p1", AuditID: "a1", Path: "/", Title: "Home"}))

	pages, err := store.ListPages(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, "Home", pages[0].Title)
	require.Equal(t, "/about", pages[1].Path)
}

// TestLatestCompletedByURL returns the newest completed audit for a URL.
func TestLatestCompletedByURL(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	url := "https://example.com"

	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a1", URL: url, Status: audit.StatusCompleted, Scores: audit.Scores{Overall: 50}}))
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a2", URL: url, Status: audit.StatusFailed}))
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a3", URL: url, Status: audit.StatusCompleted, Scores: audit.Scores{Overall: 70}}))

	got, err := store.LatestCompletedByURL(ctx, url)
	require.NoError(t, err)
	require.Equal(t, "a3", got.ID)
	require.Equal(t, 70.0, got.Scores.Overall)

	_, err = store.LatestCompletedByURL(ctx, "https://never-audited.com")
	require.ErrorIs(t, err, audit.ErrNotFound)
}

// TestDeleteAuditCascades removes the audit and all of its pages.
func TestDeleteAuditCascades(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a1"}))
	require.NoError(t, store.PutPage(ctx, audit.Page{ID: "p1", AuditID: "a1"}))

	require.NoError(t, store.DeleteAudit(ctx, "a1"))
	require.ErrorIs(t, store.DeleteAudit(ctx, "a1"), audit.ErrNotFound)

	_, err := store.GetAudit(ctx, "a1")
	require.ErrorIs(t, err, audit.ErrNotFound)
	pages, err := store.ListPages(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, pages)
}

// TestStoreIsolation ensures callers cannot mutate stored state through
// returned slices.
func TestStoreIsolation(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a1", CompetitorURLs: []string{"https://rival.com"}}))

	got, err := store.GetAudit(ctx, "a1")
	require.NoError(t, err)
	got.CompetitorURLs[0] = "mutated"

	again, err := store.GetAudit(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "https://rival.com", again.CompetitorURLs[0])
}
