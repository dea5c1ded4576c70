package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seoscope/geoaudit/internal/audit"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleHubEvent() Event {
	return Event{
		AuditID:    "a1",
		TS:         time.Now().UTC(),
		Stage:      audit.StageCrawling,
		Status:     audit.StatusCrawling,
		Percentage: 10,
	}
}

// TestHubBatchBySize flushes immediately once the batch size limit is hit.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleHubEvent())
	hub.Emit(sampleHubEvent())
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer flushes small batches after the wait interval.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleHubEvent())
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitDropsWhenFull counts and drops instead of blocking the emitter.
func TestHubEmitDropsWhenFull(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{
		BufferSize:     1,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	})
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		hub.Emit(sampleHubEvent())
	}
	require.Less(t, time.Since(start), time.Second)
}

// TestHubDiscardsInvalidEvents drops events failing validation.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   10 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(Event{})
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, sink.Batches())
}

// TestHubFlushOnClose drains buffered events and closes sinks.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     16,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleHubEvent())
	hub.Emit(sampleHubEvent())
	require.NoError(t, hub.Close(context.Background()))

	total := 0
	for _, batch := range sink.Batches() {
		total += len(batch)
	}
	require.Equal(t, 2, total)
	require.True(t, sink.Closed())
}

// TestHubEmitAfterClose is a no-op, not a panic.
func TestHubEmitAfterClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(HubConfig{BufferSize: 4})
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleHubEvent())
}
