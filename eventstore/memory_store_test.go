package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/tradepost/services/item/domain"
)

func testEvent(aggregateID int64, version int) domain.Event {
	return domain.NewEvent(aggregateID, version, "alice", domain.ItemCreatedPayload{
		Name:        "Camping tent",
		Description: "Sleeps four",
		Category:    "outdoors",
		OwnerID:     "alice",
		Status:      domain.StatusActive,
	}, nil)
}

func updateEvent(aggregateID int64, version int) domain.Event {
	return domain.NewEvent(aggregateID, version, "alice", domain.ItemUpdatedPayload{
		Changes: map[string]interface{}{"name": "Family tent"},
	}, nil)
}

func TestAppendAssignsVersionsAndSequences(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	first, err := store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].AggregateVersion)
	assert.Equal(t, int64(1), first[0].SequenceNumber)

	second, err := store.Append(ctx, 1, 1, []domain.Event{updateEvent(1, 2), updateEvent(1, 3)})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 2, second[0].AggregateVersion)
	assert.Equal(t, 3, second[1].AggregateVersion)
	assert.Equal(t, int64(2), second[0].SequenceNumber)
	assert.Equal(t, int64(3), second[1].SequenceNumber)
}

func TestAppendVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	_, err := store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)

	// A second writer that folded before the first commit carries a stale
	// expected version; exactly one of the two may win.
	_, err = store.Append(ctx, 1, 0, []domain.Event{updateEvent(1, 1)})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	// Nothing from the losing append may be visible.
	events, err := store.LoadStream(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAppendNewAggregateRequiresVersionZero(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	_, err := store.Append(ctx, 42, 3, []domain.Event{testEvent(42, 4)})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestLoadStreamUpToVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	_, err := store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)
	_, err = store.Append(ctx, 1, 1, []domain.Event{updateEvent(1, 2)})
	require.NoError(t, err)
	_, err = store.Append(ctx, 1, 2, []domain.Event{updateEvent(1, 3)})
	require.NoError(t, err)

	capped, err := store.LoadStream(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, 2, capped[1].AggregateVersion)

	full, err := store.LoadStream(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, full, 3)
}

func TestLoadStreamUnknownAggregate(t *testing.T) {
	store := NewMemoryEventStore()

	events, err := store.LoadStream(context.Background(), 99, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLoadAllCursor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	_, err := store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)
	_, err = store.Append(ctx, 2, 0, []domain.Event{testEvent(2, 1)})
	require.NoError(t, err)
	_, err = store.Append(ctx, 1, 1, []domain.Event{updateEvent(1, 2)})
	require.NoError(t, err)

	page, err := store.LoadAll(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].SequenceNumber)
	assert.Equal(t, int64(2), page[1].SequenceNumber)

	rest, err := store.LoadAll(ctx, page[1].SequenceNumber, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(3), rest[0].SequenceNumber)
}

func TestNextAggregateID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	id, err := store.NextAggregateID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = store.Append(ctx, id, 0, []domain.Event{testEvent(id, 1)})
	require.NoError(t, err)

	next, err := store.NextAggregateID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)
}

func TestProcessedBookkeeping(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	appended, err := store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)

	unprocessed, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)

	require.NoError(t, store.MarkProcessed(ctx, appended[0].EventID))

	unprocessed, err = store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestFailedAggregatesAndClearFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	appended, err := store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(ctx, appended[0].EventID, "boom"))

	failed, err := store.FailedAggregates(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, failed)

	require.NoError(t, store.ClearFailures(ctx, 1, appended[0].SequenceNumber))

	failed, err = store.FailedAggregates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)

	unprocessed, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestClearFailuresRespectsSequenceCeiling(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	first, err := store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)
	second, err := store.Append(ctx, 1, 1, []domain.Event{updateEvent(1, 2)})
	require.NoError(t, err)

	require.NoError(t, store.ClearFailures(ctx, 1, first[0].SequenceNumber))

	unprocessed, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, second[0].EventID, unprocessed[0].EventID)
}

func TestHeadSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	head, err := store.HeadSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)

	_, err = store.Append(ctx, 1, 0, []domain.Event{testEvent(1, 1)})
	require.NoError(t, err)

	head, err = store.HeadSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)
}
