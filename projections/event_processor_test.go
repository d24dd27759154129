package projections

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/tradepost/services/item/config"
	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/eventstore"
	"example.com/tradepost/services/item/repositories"
)

func TestProcessBatchProjectsAndMarks(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	items := repositories.NewMemoryItemRepository()
	projector := NewItemProjector(items, nil, config.Config{})
	processor := NewEventProcessor(store, projector, 10, 0)

	_, err := store.Append(ctx, 1, 0, []domain.Event{createdEvent(1)})
	require.NoError(t, err)

	require.NoError(t, processor.ProcessBatch(ctx))

	row, err := items.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 1, row.Version)

	unprocessed, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestProcessBatchRecordsFailures(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	items := repositories.NewMemoryItemRepository()
	projector := NewItemProjector(items, nil, config.Config{})
	processor := NewEventProcessor(store, projector, 10, 0)

	// An update without its create cannot be projected.
	orphan := domain.NewEvent(5, 0, "alice", domain.ItemUpdatedPayload{
		Changes: map[string]interface{}{"name": "Orphan"},
	}, nil)
	_, err := store.Append(ctx, 5, 0, []domain.Event{orphan})
	require.NoError(t, err)

	require.NoError(t, processor.ProcessBatch(ctx))

	failed, err := store.FailedAggregates(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, failed)

	// Still unprocessed, so the next batch retries it.
	unprocessed, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 1)
}

// A lost projection must not be papered over: when an intermediate event was
// marked processed without reaching the read model, the next event hits the
// version gap, is recorded as failed and stays unprocessed so the repair job
// rebuilds the aggregate.
func TestProcessBatchFlagsGapForRepair(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryEventStore()
	items := repositories.NewMemoryItemRepository()
	projector := NewItemProjector(items, nil, config.Config{})
	processor := NewEventProcessor(store, projector, 10, 0)

	first, err := store.Append(ctx, 1, 0, []domain.Event{createdEvent(1)})
	require.NoError(t, err)
	second, err := store.Append(ctx, 1, 1, []domain.Event{domain.NewEvent(1, 2, "alice", domain.ItemUpdatedPayload{
		Changes: map[string]interface{}{"description": "Fully serviced"},
	}, nil)})
	require.NoError(t, err)
	_, err = store.Append(ctx, 1, 2, []domain.Event{domain.NewEvent(1, 3, "alice", domain.ItemUpdatedPayload{
		Changes: map[string]interface{}{"name": "Direct drive turntable"},
	}, nil)})
	require.NoError(t, err)

	require.NoError(t, projector.Project(ctx, first[0]))
	require.NoError(t, store.MarkProcessed(ctx, first[0].EventID))

	// The second event's projection never reached the read model.
	require.NoError(t, store.MarkProcessed(ctx, second[0].EventID))

	require.NoError(t, processor.ProcessBatch(ctx))

	// The third event must not have been applied over the hole.
	row, err := items.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 1, row.Version)
	assert.Equal(t, "Record player", row.Name)

	failed, err := store.FailedAggregates(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, failed)

	unprocessed, err := store.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, 3, unprocessed[0].AggregateVersion)
}
