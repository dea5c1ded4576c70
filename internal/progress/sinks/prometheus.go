package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seoscope/geoaudit/internal/audit"
	"github.com/seoscope/geoaudit/internal/progress"
)

// PrometheusSink exports audit progress metrics. It owns all collectors for
// audits started/completed/running, per-stage transitions, and page/issue
// totals.
type PrometheusSink struct {
	auditsStarted   prometheus.Counter
	auditsCompleted *prometheus.CounterVec
	auditsRunning   prometheus.Gauge
	stageEvents     *prometheus.CounterVec
	pagesProcessed  prometheus.Gauge
	issuesFound     prometheus.Gauge

	tracker *auditTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		auditsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geoaudit_audits_started_total",
			Help: "Total audits that have started.",
		}),
		auditsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoaudit_audits_completed_total",
			Help: "Total audits completed partitioned by result.",
		}, []string{"result"}),
		auditsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geoaudit_audits_running",
			Help: "Current number of running audits.",
		}),
		stageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geoaudit_stage_events_total",
			Help: "Progress events partitioned by pipeline stage.",
		}, []string{"stage"}),
		pagesProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geoaudit_last_audit_pages",
			Help: "Pages processed by the most recently reporting audit.",
		}),
		issuesFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geoaudit_last_audit_issues",
			Help: "Issues found by the most recently reporting audit.",
		}),
		tracker: newAuditTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.auditsStarted,
		s.auditsCompleted,
		s.auditsRunning,
		s.stageEvents,
		s.pagesProcessed,
		s.issuesFound,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. Safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	if evt.Snapshot {
		return
	}
	if evt.Stage != "" {
		s.stageEvents.WithLabelValues(string(evt.Stage)).Inc()
	}
	s.pagesProcessed.Set(float64(evt.Delta.PagesProcessed))
	s.issuesFound.Set(float64(evt.Delta.IssuesFound))

	if s.tracker.start(evt.AuditID) {
		s.auditsStarted.Inc()
		s.auditsRunning.Inc()
	}
	if evt.Terminal && s.tracker.complete(evt.AuditID) {
		s.auditsRunning.Dec()
		result := "completed"
		if evt.Status == audit.StatusFailed {
			result = "failed"
			if evt.Reason == "cancelled" {
				result = "cancelled"
			}
		}
		s.auditsCompleted.WithLabelValues(result).Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type auditTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newAuditTracker() *auditTracker {
	return &auditTracker{running: make(map[string]struct{})}
}

func (t *auditTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *auditTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
