package progress

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SnapshotSource reconstructs the current-state event for an audit from its
// last persisted record. The broker replays it to every new subscriber.
type SnapshotSource interface {
	Snapshot(ctx context.Context, auditID string) (Event, error)
}

// SnapshotFunc adapts a plain function to SnapshotSource.
type SnapshotFunc func(ctx context.Context, auditID string) (Event, error)

// Snapshot calls f.
func (f SnapshotFunc) Snapshot(ctx context.Context, auditID string) (Event, error) {
	return f(ctx, auditID)
}

// Broker fans progress events out to any number of per-audit subscribers.
// Emit never blocks: each subscriber owns a one-slot latest-event buffer, so
// a slow consumer sees coalesced intermediate events (last value wins) but is
// guaranteed to observe the terminal event.
type Broker struct {
	snapshots SnapshotSource
	logger    *zap.Logger

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewBroker builds a Broker that replays snapshots from the given source.
func NewBroker(snapshots SnapshotSource, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		snapshots: snapshots,
		logger:    logger,
		subs:      make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe attaches to an audit's event stream. The returned channel first
// delivers the audit's current state (the persisted snapshot, or a live event
// that raced the attach), then live events with percentage >= the first. The
// channel closes after a terminal event or when cancel is called; cancel is
// idempotent.
func (b *Broker) Subscribe(ctx context.Context, auditID string) (<-chan Event, func(), error) {
	sub := newSubscriber(auditID)

	// Register before fetching the snapshot: a terminal event emitted while
	// the fetch is in flight lands in the reserved slot instead of vanishing.
	b.mu.Lock()
	set := b.subs[auditID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		b.subs[auditID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	snap, err := b.snapshots.Snapshot(ctx, auditID)
	if err != nil {
		b.detach(auditID, sub)
		sub.stop()
		return nil, nil, err
	}

	// Seed the buffer before the forwarding goroutine starts so the
	// snapshot is delivered first; a live event that raced the fetch keeps
	// its slot.
	sub.seed(snap)
	go sub.forward()

	cancel := func() {
		b.detach(auditID, sub)
		sub.stop()
	}
	// If the audit is already terminal the snapshot doubles as the final
	// event; the subscriber closes itself after delivering it.
	return sub.out, cancel, nil
}

// Emit routes the event to the audit's live subscribers. Invalid events are
// discarded with a debug log, mirroring how emitters are shielded from
// delivery concerns.
func (b *Broker) Emit(evt Event) {
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	b.mu.Lock()
	set := b.subs[evt.AuditID]
	targets := make([]*subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.offer(evt)
	}
}

// Close terminates every subscriber stream, e.g. on server shutdown.
func (b *Broker) Close() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[string]map[*subscriber]struct{})
	b.mu.Unlock()
	for _, set := range all {
		for sub := range set {
			sub.stop()
		}
	}
}

func (b *Broker) detach(auditID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[auditID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, auditID)
		}
	}
}

// subscriber holds a one-slot coalescing buffer plus a reserved terminal
// slot. offer never blocks; forward drains the slots into the out channel in
// order, blocking only this subscriber's goroutine.
type subscriber struct {
	auditID string
	out     chan Event

	mu       sync.Mutex
	latest   *Event
	terminal *Event
	stopped  bool

	signal chan struct{}
	done   chan struct{}
}

func newSubscriber(auditID string) *subscriber {
	return &subscriber{
		auditID: auditID,
		out:     make(chan Event),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscriber) offer(evt Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if evt.Terminal {
		s.terminal = &evt
	} else {
		// Last value wins; an undelivered intermediate event is dropped.
		s.latest = &evt
	}
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// seed places the snapshot without clobbering an event that arrived while
// the snapshot was being fetched.
func (s *subscriber) seed(evt Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	switch {
	case evt.Terminal:
		if s.terminal == nil {
			s.terminal = &evt
		}
	case s.latest == nil:
		s.latest = &evt
	}
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) forward() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			var next *Event
			switch {
			case s.latest != nil:
				next = s.latest
				s.latest = nil
			case s.terminal != nil:
				next = s.terminal
				s.terminal = nil
			}
			s.mu.Unlock()
			if next == nil {
				break
			}
			select {
			case s.out <- *next:
			case <-s.done:
				return
			}
			if next.Terminal {
				s.stop()
				return
			}
		}
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.done)
}
