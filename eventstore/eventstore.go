package eventstore

import (
	"context"

	"example.com/tradepost/services/item/domain"
)

// EventStore is the interface to the append-only event log, the single
// source of truth for item state.
type EventStore interface {
	// Append atomically persists one or more events for a single aggregate,
	// but only if the aggregate's current max aggregate_version equals
	// expectedVersion (0 for a new aggregate). On success the returned
	// events carry their assigned sequence numbers. On a version race it
	// returns domain.ErrConcurrencyConflict and persists nothing.
	Append(ctx context.Context, aggregateID int64, expectedVersion int, events []domain.Event) ([]domain.Event, error)

	// LoadStream returns the ordered event stream for an aggregate,
	// optionally truncated at upToVersion (0 means no cap). An aggregate
	// with no events yields an empty slice, not an error.
	LoadStream(ctx context.Context, aggregateID int64, upToVersion int) ([]domain.Event, error)

	// LoadAll returns up to limit events in global sequence order with
	// sequence_number > afterSequence. The cursor makes catch-up
	// restartable.
	LoadAll(ctx context.Context, afterSequence int64, limit int) ([]domain.Event, error)

	// Exists reports whether the aggregate has any events.
	Exists(ctx context.Context, aggregateID int64) (bool, error)

	// HeadSequence returns the current end of the log. Replays use it as a
	// snapshot ceiling so concurrent writes cannot corrupt a fold.
	HeadSequence(ctx context.Context) (int64, error)

	// NextAggregateID allocates a candidate ID for a new aggregate. The
	// version-1 unique constraint catches allocation races; the caller
	// retries with a fresh ID on conflict.
	NextAggregateID(ctx context.Context) (int64, error)

	// ListUnprocessed returns events not yet applied to the read model, in
	// sequence order.
	ListUnprocessed(ctx context.Context, limit int) ([]domain.Event, error)

	// MarkProcessed records that the projection applied the event.
	MarkProcessed(ctx context.Context, eventID string) error

	// MarkFailed records a projection failure for the event. The aggregate
	// is thereby marked for re-projection; rebuild is the repair path.
	MarkFailed(ctx context.Context, eventID string, cause string) error

	// FailedAggregates returns the aggregates with at least one failed
	// projection, for the repair job.
	FailedAggregates(ctx context.Context, limit int) ([]int64, error)

	// ClearFailures marks the aggregate's events with sequence_number <=
	// upToSequence processed and wipes their recorded errors, after a
	// successful rebuild. Events past the rebuild's ceiling are untouched
	// so the worker still projects them.
	ClearFailures(ctx context.Context, aggregateID int64, upToSequence int64) error
}
