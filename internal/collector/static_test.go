package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seoscope/geoaudit/internal/audit"
)

// TestStaticEmitsInPathOrder emits the configured pages deterministically.
func TestStaticEmitsInPathOrder(t *testing.T) {
	t.Parallel()

	static := NewStatic([]StaticPage{
		{Path: "/c", HTML: "<html>c</html>"},
		{Path: "/a", HTML: "<html>a</html>"},
		{Path: "/b", Err: "connection refused"},
	})

	var got []audit.FetchedPage
	err := static.Collect(context.Background(), audit.CollectTarget{URL: "https://example.com", MaxPages: 10},
		func(fp audit.FetchedPage) error {
			got = append(got, fp)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "/a", got[0].Path)
	require.Equal(t, "/b", got[1].Path)
	require.Equal(t, "/c", got[2].Path)

	require.Equal(t, "https://example.com/a", got[0].URL)
	require.Equal(t, 200, got[0].Status)
	require.False(t, got[0].Failed())

	require.True(t, got[1].Failed())
	require.Equal(t, "connection refused", got[1].FetchError)
}

// TestStaticHonorsMaxPages stops after the page cap.
func TestStaticHonorsMaxPages(t *testing.T) {
	t.Parallel()

	static := NewStatic([]StaticPage{
		{Path: "/a"}, {Path: "/b"}, {Path: "/c"},
	})

	count := 0
	err := static.Collect(context.Background(), audit.CollectTarget{URL: "https://example.com", MaxPages: 2},
		func(audit.FetchedPage) error {
			count++
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

// TestStaticStopsOnEmitError propagates the callback error.
func TestStaticStopsOnEmitError(t *testing.T) {
	t.Parallel()

	static := NewStatic([]StaticPage{{Path: "/a"}, {Path: "/b"}})
	wantErr := errors.New("stop")

	count := 0
	err := static.Collect(context.Background(), audit.CollectTarget{URL: "https://example.com", MaxPages: 10},
		func(audit.FetchedPage) error {
			count++
			return wantErr
		})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, count)
}

// TestStaticRespectsContext stops between pages once the context is done.
func TestStaticRespectsContext(t *testing.T) {
	t.Parallel()

	static := NewStatic([]StaticPage{{Path: "/a"}, {Path: "/b"}})
	ctx, cancel := context.WithCancel(context.Background())

	count := 0
	err := static.Collect(ctx, audit.CollectTarget{URL: "https://example.com", MaxPages: 10},
		func(audit.FetchedPage) error {
			count++
			cancel()
			return nil
		})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, count)
}
