package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/tradepost/services/item/domain"
	"example.com/tradepost/services/item/eventstore"
	"example.com/tradepost/services/item/models"
	"example.com/tradepost/services/item/repositories"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seedStream appends a created/updated/status-changed stream with
// timestamps one hour apart, starting at base.
func seedStream(t *testing.T, store *eventstore.MemoryEventStore, aggregateID int64) []domain.Event {
	t.Helper()
	ctx := context.Background()

	created := domain.NewEvent(aggregateID, 1, "alice", domain.ItemCreatedPayload{
		Name:        "Telescope",
		Description: "130mm reflector with mount",
		Category:    "optics",
		OwnerID:     "alice",
		Status:      domain.StatusActive,
	}, nil)
	created.Timestamp = base

	updated := domain.NewEvent(aggregateID, 2, "alice", domain.ItemUpdatedPayload{
		Changes:        map[string]interface{}{"name": "Dobsonian telescope"},
		PreviousValues: map[string]interface{}{"name": "Telescope"},
	}, nil)
	updated.Timestamp = base.Add(time.Hour)

	statusChanged := domain.NewEvent(aggregateID, 3, "alice", domain.ItemStatusChangedPayload{
		OldStatus: domain.StatusActive,
		NewStatus: domain.StatusSwapped,
		Reason:    "swapped for binoculars",
	}, nil)
	statusChanged.Timestamp = base.Add(2 * time.Hour)

	appended, err := store.Append(ctx, aggregateID, 0, []domain.Event{created, updated, statusChanged})
	require.NoError(t, err)
	return appended
}

func newTestEngine() (*Engine, *eventstore.MemoryEventStore, *repositories.MemoryItemRepository) {
	store := eventstore.NewMemoryEventStore()
	items := repositories.NewMemoryItemRepository()
	return NewEngine(store, items), store, items
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine()
	seedStream(t, store, 1)

	history, err := engine.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, domain.ItemCreated, history[0].EventType)
	assert.Equal(t, domain.ItemUpdated, history[1].EventType)
	assert.Equal(t, domain.ItemStatusChanged, history[2].EventType)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 3, history[2].Version)
	assert.Equal(t, "alice", history[0].UserID)
}

func TestHistoryNotFound(t *testing.T) {
	engine, _, _ := newTestEngine()

	_, err := engine.History(context.Background(), 99)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine()
	seedStream(t, store, 1)

	trail, err := engine.AuditTrail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trail, 3)

	assert.Equal(t, "item", trail[0].Field)

	assert.Equal(t, "name", trail[1].Field)
	assert.Equal(t, "Telescope", trail[1].OldValue)
	assert.Equal(t, "Dobsonian telescope", trail[1].NewValue)
	assert.Equal(t, 2, trail[1].Version)

	assert.Equal(t, "status", trail[2].Field)
	assert.Equal(t, domain.StatusActive, trail[2].OldValue)
	assert.Equal(t, domain.StatusSwapped, trail[2].NewValue)
}

func TestTimeTravel(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine()
	seedStream(t, store, 1)

	// Between the update and the status change.
	item, err := engine.TimeTravel(ctx, 1, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "Dobsonian telescope", item.Name)
	assert.Equal(t, domain.StatusActive, item.Status)
	assert.Equal(t, 2, item.Version)

	// Exactly at an event's timestamp includes that event.
	item, err = engine.TimeTravel(ctx, 1, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSwapped, item.Status)
	assert.Equal(t, 3, item.Version)
}

func TestTimeTravelBeforeCreation(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine()
	seedStream(t, store, 1)

	_, err := engine.TimeTravel(ctx, 1, base.Add(-time.Minute))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRebuildRepairsDriftedRow(t *testing.T) {
	ctx := context.Background()
	engine, store, items := newTestEngine()
	appended := seedStream(t, store, 1)

	// Simulate a drifted read model and a recorded projection failure.
	require.NoError(t, items.Upsert(ctx, &models.Item{
		ID:     1,
		Name:   "Stale name",
		Status: domain.StatusActive,
	}))
	require.NoError(t, store.MarkFailed(ctx, appended[2].EventID, "boom"))

	item, err := engine.Rebuild(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Dobsonian telescope", item.Name)
	assert.Equal(t, domain.StatusSwapped, item.Status)

	row, err := items.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Dobsonian telescope", row.Name)
	assert.Equal(t, domain.StatusSwapped, row.Status)
	assert.Equal(t, 3, row.Version)

	failed, err := store.FailedAggregates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRebuildNotFound(t *testing.T) {
	engine, _, _ := newTestEngine()

	_, err := engine.Rebuild(context.Background(), 99)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepairFailed(t *testing.T) {
	ctx := context.Background()
	engine, store, items := newTestEngine()
	appended := seedStream(t, store, 1)

	require.NoError(t, store.MarkFailed(ctx, appended[0].EventID, "boom"))

	require.NoError(t, engine.RepairFailed(ctx, 10))

	row, err := items.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 3, row.Version)

	failed, err := store.FailedAggregates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

// raceAppendStore injects an append between the head-sequence capture and
// the stream load, like a writer committing while a rebuild runs.
type raceAppendStore struct {
	*eventstore.MemoryEventStore
	onLoad func()
}

func (s *raceAppendStore) LoadStream(ctx context.Context, aggregateID int64, upToVersion int) ([]domain.Event, error) {
	if s.onLoad != nil {
		s.onLoad()
		s.onLoad = nil
	}
	return s.MemoryEventStore.LoadStream(ctx, aggregateID, upToVersion)
}

// An event appended mid-rebuild lands past the captured head sequence. It
// must stay unprocessed so the worker still projects it, instead of being
// swept up by the failure clearing.
func TestRebuildLeavesMidRebuildAppendUnprocessed(t *testing.T) {
	ctx := context.Background()
	inner := eventstore.NewMemoryEventStore()
	items := repositories.NewMemoryItemRepository()
	seedStream(t, inner, 1)

	store := &raceAppendStore{MemoryEventStore: inner}
	store.onLoad = func() {
		late := domain.NewEvent(1, 4, "alice", domain.ItemStatusChangedPayload{
			OldStatus: domain.StatusSwapped,
			NewStatus: domain.StatusActive,
			Reason:    "swap fell through",
		}, nil)
		_, err := inner.Append(ctx, 1, 3, []domain.Event{late})
		require.NoError(t, err)
	}

	engine := NewEngine(store, items)
	item, err := engine.Rebuild(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Version)

	row, err := items.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 3, row.Version)

	unprocessed, err := inner.ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, 4, unprocessed[0].AggregateVersion)
}
