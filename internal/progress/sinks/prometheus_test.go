package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/seoscope/geoaudit/internal/audit"
	"github.com/seoscope/geoaudit/internal/progress"
)

func event(auditID string, status audit.Status, terminal bool) progress.Event {
	return progress.Event{
		AuditID:    auditID,
		TS:         time.Now().UTC(),
		Stage:      audit.StageCrawling,
		Status:     status,
		Percentage: 10,
		Terminal:   terminal,
	}
}

// TestPrometheusSinkCounts tracks started/running/completed across an audit
// lifecycle.
func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		event("a1", audit.StatusCrawling, false),
		event("a1", audit.StatusCrawling, false),
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.auditsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.auditsRunning))

	done := event("a1", audit.StatusCompleted, true)
	done.Stage = ""
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.auditsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.auditsCompleted.WithLabelValues("completed")))
}

// TestPrometheusSinkCancelledResult labels user-cancelled audits separately
// from failures.
func TestPrometheusSinkCancelledResult(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	cancelled := event("a1", audit.StatusFailed, true)
	cancelled.Reason = "cancelled"
	failed := event("a2", audit.StatusFailed, true)
	failed.Reason = "no pages crawled"

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{cancelled, failed}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.auditsCompleted.WithLabelValues("cancelled")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.auditsCompleted.WithLabelValues("failed")))
}

// TestPrometheusSinkSkipsSnapshots keeps replayed snapshots out of the
// counters.
func TestPrometheusSinkSkipsSnapshots(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	snap := event("a1", audit.StatusCrawling, false)
	snap.Snapshot = true
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{snap}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.auditsStarted))
}

// TestPrometheusSinkDoubleRegister surfaces registry collisions.
func TestPrometheusSinkDoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
