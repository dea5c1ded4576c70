package progress

import "context"

// Sink receives batched audit progress events from the Hub. Consume may be
// called concurrently and must honor ctx deadlines; Close flushes whatever
// the sink buffered.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
