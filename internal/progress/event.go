// Package progress defines the event structures emitted by the audit
// pipeline, the per-audit subscriber broker, and the sink fan-out hub.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/seoscope/geoaudit/internal/audit"
)

// Delta carries the cumulative counters attached to an event. Counters are
// totals recomputed at emit time, not increments.
type Delta struct {
	PagesProcessed int `json:"pages_processed,omitempty"`
	IssuesFound    int `json:"issues_found,omitempty"`
}

// Event captures a single step of audit progress. Events are append-only; an
// emitted event is never mutated.
type Event struct {
	// AuditID identifies the audit run.
	AuditID string `json:"audit_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"timestamp"`
	// Stage is the pipeline stage the audit is in (empty before crawling).
	Stage audit.Stage `json:"stage,omitempty"`
	// Status mirrors the audit status at emit time.
	Status audit.Status `json:"status"`
	// Percentage is the monotone completion estimate in [0,100].
	Percentage float64 `json:"percentage"`
	// Delta holds cumulative page/issue counters.
	Delta Delta `json:"delta"`
	// Snapshot marks the synthetic replay event sent to late subscribers.
	Snapshot bool `json:"snapshot,omitempty"`
	// Terminal marks the final event of an audit's stream.
	Terminal bool `json:"terminal"`
	// Reason explains a terminal failure (e.g. "cancelled").
	Reason string `json:"reason,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.AuditID == "" {
		return errors.New("audit id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Percentage < 0 || e.Percentage > 100 {
		return fmt.Errorf("percentage out of range: %v", e.Percentage)
	}
	if e.Terminal && !e.Status.IsTerminal() {
		return fmt.Errorf("terminal event with non-terminal status %q", e.Status)
	}
	return nil
}

// MessageAttributes returns the routing attributes attached to exported
// events. Downstream exporters filter on these without decoding the payload.
func (e Event) MessageAttributes() map[string]string {
	attrs := map[string]string{
		"audit_id": e.AuditID,
		"status":   string(e.Status),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return attrs
}

// FromAudit reconstructs the snapshot event for a persisted audit record.
// Late subscribers receive it before any live events so they never observe a
// gap.
func FromAudit(a audit.Audit, now time.Time) Event {
	return Event{
		AuditID:    a.ID,
		TS:         now,
		Stage:      a.Progress.CurrentStage,
		Status:     a.Status,
		Percentage: a.Progress.Percentage,
		Delta: Delta{
			PagesProcessed: a.Stats.TotalPages,
			IssuesFound:    a.Stats.IssuesFound,
		},
		Snapshot: true,
		Terminal: a.Status.IsTerminal(),
		Reason:   a.FailureReason,
	}
}

// Emitter publishes individual events; the Broker and Hub both satisfy it so
// the pipeline stays agnostic about delivery.
type Emitter interface {
	Emit(evt Event)
}

// Tee fans one Emit out to several emitters.
func Tee(emitters ...Emitter) Emitter {
	return teeEmitter(emitters)
}

type teeEmitter []Emitter

func (t teeEmitter) Emit(evt Event) {
	for _, e := range t {
		if e != nil {
			e.Emit(evt)
		}
	}
}
